package fractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerActorProtocolAEmitsInitializeThenResults(t *testing.T) {
	shared := make(chan Envelope, 8)
	actor := NewWorkerActor("a1", WorkerFunc(doublingFunc), shared, time.Second)
	actor.Start()
	defer func() {
		actor.Close()
		actor.Wait()
	}()

	init := <-shared
	assert.Equal(t, EnvInitialize, init.Type)
	assert.Equal(t, "a1", init.Processor)

	require.True(t, actor.Send(NewWork(3)))
	result := <-shared
	assert.Equal(t, EnvResult, result.Type)
	assert.Equal(t, 6, result.Result.Result)

	assert.Nil(t, actor.Port())
}

func TestWorkerActorProtocolBUsesOwnPort(t *testing.T) {
	actor := NewPortWorkerActor("a2", WorkerFunc(doublingFunc), time.Second)
	actor.Start()
	defer func() {
		actor.Close()
		actor.Wait()
	}()

	require.True(t, actor.Send(NewWork(5)))
	result := <-actor.Port()
	assert.Equal(t, EnvResult, result.Type)
	assert.Equal(t, 10, result.Result.Result)
}

func TestWorkerActorEmitsErrorEnvelopeOnFailure(t *testing.T) {
	actor := NewPortWorkerActor("a3", WorkerFunc(doublingFunc), time.Second)
	actor.Start()
	defer func() {
		actor.Close()
		actor.Wait()
	}()

	require.True(t, actor.Send(NewWork("not-an-int")))
	result := <-actor.Port()
	assert.Equal(t, EnvError, result.Type)
	assert.False(t, result.Result.Success)
}

func TestWorkerActorCloseBeforeStartMarksClosed(t *testing.T) {
	actor := NewPortWorkerActor("a4", WorkerFunc(doublingFunc), time.Second)
	actor.Close()
	assert.True(t, actor.Closed())
	assert.False(t, actor.Send(NewWork(1)))
}

func TestWorkerActorCloseIsIdempotent(t *testing.T) {
	actor := NewPortWorkerActor("a5", WorkerFunc(doublingFunc), time.Second)
	actor.Start()
	actor.Close()
	actor.Close()
	actor.Wait()
	assert.True(t, actor.Closed())
}

func TestWorkerActorTimesOutSlowWork(t *testing.T) {
	slow := WorkerFunc(func(ctx context.Context, work Work) WorkResult {
		<-ctx.Done()
		return NewSuccessResult(work, "too late")
	})
	actor := NewPortWorkerActor("a6", slow, 10*time.Millisecond)
	actor.Start()
	defer func() {
		actor.Close()
		actor.Wait()
	}()

	require.True(t, actor.Send(NewWork(1)))
	result := <-actor.Port()
	assert.Equal(t, EnvError, result.Type)
	assert.Equal(t, CategoryTimeout, result.Result.ErrorCategory)
}

func doublingFunc(ctx context.Context, work Work) WorkResult {
	n, ok := work.Input.(int)
	if !ok {
		return NewErrorResult(work, &ValidationError{Err: errors.New("input not an int")})
	}
	return NewSuccessResult(work, n*2)
}
