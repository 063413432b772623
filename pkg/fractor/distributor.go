package fractor

import (
	"strconv"
	"sync"
	"time"
)

// WorkDistributor owns a live roster of WorkerActors and hands work to idle ones. The
// roster is a fixed-identity slice set once at construction: the same backing actors
// persist for the Supervisor's lifetime rather than being recreated per batch.
type WorkDistributor struct {
	mu     sync.Mutex
	actors []*WorkerActor
	idle   map[string]bool
	shared chan Envelope
}

// NewWorkDistributor builds a distributor of n actors, all sharing one output channel
// (protocol A), each running its own instance produced by factory.
func NewWorkDistributor(n int, factory WorkerFactory, globalTimeout time.Duration) *WorkDistributor {
	shared := make(chan Envelope, n*2)
	d := &WorkDistributor{
		actors: make([]*WorkerActor, n),
		idle:   make(map[string]bool, n),
		shared: shared,
	}
	for i := 0; i < n; i++ {
		name := actorName(i)
		a := NewWorkerActor(name, factory(), shared, globalTimeout)
		d.actors[i] = a
		d.idle[name] = true
	}
	return d
}

func actorName(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	if i < len(letters) {
		return "worker-" + string(letters[i])
	}
	return "worker-" + strconv.Itoa(i)
}

// Start launches every actor's goroutine. Must be called before Dispatch.
func (d *WorkDistributor) Start() {
	for _, a := range d.actors {
		a.Start()
	}
}

// Envelopes returns the shared channel every actor yields envelopes to.
func (d *WorkDistributor) Envelopes() <-chan Envelope { return d.shared }

// IdleCount returns the number of actors not currently marked busy.
func (d *WorkDistributor) IdleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, idle := range d.idle {
		if idle {
			n++
		}
	}
	return n
}

// Dispatch hands work to the first idle actor found, marking it busy, and returns the
// chosen actor's name alongside whether dispatch succeeded. Returns ("", false) if
// every actor is currently busy.
func (d *WorkDistributor) Dispatch(work Work) (string, bool) {
	d.mu.Lock()
	var target *WorkerActor
	for _, a := range d.actors {
		if d.idle[a.Name] {
			d.idle[a.Name] = false
			target = a
			break
		}
	}
	d.mu.Unlock()
	if target == nil {
		return "", false
	}
	return target.Name, target.Send(work)
}

// MarkIdle releases an actor back to the idle pool, identified by the Processor field of
// the envelope it just emitted a RESULT/ERROR for.
func (d *WorkDistributor) MarkIdle(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idle[name] = true
}

// Actors returns the live roster, in fixed construction order.
func (d *WorkDistributor) Actors() []*WorkerActor {
	return d.actors
}

// Shutdown closes every actor and waits for their goroutines to exit.
func (d *WorkDistributor) Shutdown() {
	for _, a := range d.actors {
		a.Close()
	}
	for _, a := range d.actors {
		a.Wait()
	}
}
