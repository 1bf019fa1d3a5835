// Package barrier implements the rendezvous used by the threads of a device
// block. A Barrier is cyclic: once every party has arrived it releases them
// and resets for the next phase.
package barrier

import "sync"

// Barrier blocks parties in Wait until all of them have arrived.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	arrived int
	phase   uint64
}

// New returns a barrier for n parties. n must be positive.
func New(n int) *Barrier {
	if n <= 0 {
		panic("barrier: parties must be positive")
	}
	b := &Barrier{parties: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all parties of the current phase have called Wait.
// Writes made by any party before Wait are visible to every party after it.
func (b *Barrier) Wait() {
	b.mu.Lock()
	phase := b.phase
	b.arrived++
	if b.arrived >= b.parties {
		b.advance()
		b.mu.Unlock()
		return
	}
	for phase == b.phase {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// Leave removes the caller from the barrier for all future phases. A thread
// that returns without reaching Wait must Leave, otherwise its siblings
// block forever.
func (b *Barrier) Leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.parties == 0 {
		return
	}
	b.parties--
	if b.arrived > 0 && b.arrived >= b.parties {
		b.advance()
	}
}

// Parties returns the number of parties still taking part.
func (b *Barrier) Parties() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties
}

func (b *Barrier) advance() {
	b.arrived = 0
	b.phase++
	b.cond.Broadcast()
}
