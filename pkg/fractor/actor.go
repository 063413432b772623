package fractor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EnvelopeType identifies what an actor emitted.
type EnvelopeType int

const (
	EnvInitialize EnvelopeType = iota
	EnvResult
	EnvError
	EnvShutdown
)

// Envelope is what a WorkerActor emits to its backend: an initialize notice on
// startup (protocol A only), a result or error after processing, or a shutdown notice
// on orderly termination.
type Envelope struct {
	Type      EnvelopeType
	Result    WorkResult
	Processor string
}

// ActorState is the externally observed, one-way lifecycle of a WorkerActor.
type ActorState int32

const (
	ActorUnstarted ActorState = iota
	ActorRunning
	ActorClosed
)

type actorMessageKind int

const (
	msgWork actorMessageKind = iota
	msgShutdown
)

type actorMessage struct {
	kind actorMessageKind
	work Work
}

// ActorBackend abstracts the wire protocol a WorkerActor emits envelopes over, so the
// rest of the system sees a uniform send/recv pair regardless of which protocol a given
// build uses. Two implementations are provided: yieldBackend
// ("protocol A") funnels every actor's envelopes into one shared channel and emits an
// initial EnvInitialize; portBackend ("protocol B") gives each actor its own channel
// and never emits EnvInitialize.
type ActorBackend interface {
	emit(env Envelope)
	recvChan() <-chan Envelope // only meaningful for backends that own their own channel (protocol B)
}

type yieldBackend struct {
	shared chan<- Envelope
}

func (b *yieldBackend) emit(env Envelope)        { b.shared <- env }
func (b *yieldBackend) recvChan() <-chan Envelope { return nil }

type portBackend struct {
	port chan Envelope
}

func newPortBackend(buf int) *portBackend {
	return &portBackend{port: make(chan Envelope, buf)}
}

func (b *portBackend) emit(env Envelope)        { b.port <- env }
func (b *portBackend) recvChan() <-chan Envelope { return b.port }

// WorkerActor encapsulates one Worker instance bound to an isolated execution context
// with no shared mutable state; it communicates exclusively by message passing.
type WorkerActor struct {
	Name string

	worker        Worker
	backend       ActorBackend
	globalTimeout time.Duration

	mailbox chan actorMessage
	state   atomic.Int32

	startOnce sync.Once
	doneWg    sync.WaitGroup
}

// NewWorkerActor constructs an actor using protocol A: envelopes (including an initial
// EnvInitialize) are written to the supervisor's shared channel.
func NewWorkerActor(name string, worker Worker, shared chan<- Envelope, globalTimeout time.Duration) *WorkerActor {
	return newActor(name, worker, &yieldBackend{shared: shared}, globalTimeout)
}

// NewPortWorkerActor constructs an actor using protocol B: envelopes are written to the
// actor's own port, retrievable via Port(). No EnvInitialize is emitted.
func NewPortWorkerActor(name string, worker Worker, globalTimeout time.Duration) *WorkerActor {
	return newActor(name, worker, newPortBackend(8), globalTimeout)
}

func newActor(name string, worker Worker, backend ActorBackend, globalTimeout time.Duration) *WorkerActor {
	return &WorkerActor{
		Name:          name,
		worker:        worker,
		backend:       backend,
		globalTimeout: globalTimeout,
		mailbox:       make(chan actorMessage, 1),
	}
}

// Port returns the actor's dedicated envelope channel, for protocol-B actors. Returns
// nil for protocol-A actors, whose envelopes go to the shared channel instead.
func (a *WorkerActor) Port() <-chan Envelope { return a.backend.recvChan() }

// Start spawns the actor's execution goroutine. Calling Start more than once is a no-op.
func (a *WorkerActor) Start() {
	a.startOnce.Do(func() {
		a.state.Store(int32(ActorRunning))
		a.doneWg.Add(1)
		go a.run()
	})
}

func (a *WorkerActor) run() {
	defer a.doneWg.Done()
	if _, isYield := a.backend.(*yieldBackend); isYield {
		a.backend.emit(Envelope{Type: EnvInitialize, Processor: a.Name})
	}
	for msg := range a.mailbox {
		if msg.kind == msgShutdown {
			a.state.Store(int32(ActorClosed))
			a.backend.emit(Envelope{Type: EnvShutdown, Processor: a.Name})
			return
		}
		result := a.processWithTimeout(msg.work)
		if result.Success {
			a.backend.emit(Envelope{Type: EnvResult, Result: result, Processor: a.Name})
		} else {
			a.backend.emit(Envelope{Type: EnvError, Result: result, Processor: a.Name})
		}
	}
}

func (a *WorkerActor) processWithTimeout(work Work) WorkResult {
	timeout := EffectiveTimeout(work, a.worker, a.globalTimeout)
	if timeout <= 0 {
		return a.worker.Process(context.Background(), work)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type outcome struct{ result WorkResult }
	done := make(chan outcome, 1)
	go func() {
		done <- outcome{result: a.worker.Process(ctx, work)}
	}()

	select {
	case o := <-done:
		return o.result
	case <-ctx.Done():
		return NewErrorResult(work, ctx.Err(), WithErrorCategory(CategoryTimeout))
	}
}

// Send enqueues work for processing; non-blocking in the sense that it never blocks on
// the worker itself, but may briefly block on a full single-slot mailbox. Returns false
// if the actor is closed.
func (a *WorkerActor) Send(work Work) bool {
	if a.Closed() {
		return false
	}
	a.mailbox <- actorMessage{kind: msgWork, work: work}
	return true
}

// Close requests termination; idempotent, safe to call multiple times or before Start.
func (a *WorkerActor) Close() {
	if ActorState(a.state.Load()) == ActorClosed {
		return
	}
	if ActorState(a.state.Load()) == ActorUnstarted {
		a.state.Store(int32(ActorClosed))
		return
	}
	select {
	case a.mailbox <- actorMessage{kind: msgShutdown}:
	default:
		// Mailbox briefly full; the next drain will still see shutdown below via
		// Wait, since close(a.mailbox) after Wait is not needed — run() exits on
		// receiving the shutdown message whenever it is delivered.
		a.mailbox <- actorMessage{kind: msgShutdown}
	}
}

// Closed reports whether the actor has terminated (or never started).
func (a *WorkerActor) Closed() bool {
	return ActorState(a.state.Load()) == ActorClosed
}

// Wait blocks until the actor's goroutine has exited after Close.
func (a *WorkerActor) Wait() {
	a.doneWg.Wait()
}
