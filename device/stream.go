package device

import (
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

var errReleased = errors.E(errors.Precondition, "device: released")

// op is a unit of work on a stream. Ops marked always run even after a
// launch has failed; events rely on this so that waiters are never stranded.
type op struct {
	fn     func() error
	always bool
}

// stream executes ops one at a time in submission order. The first failing
// launch poisons the stream: later launches are skipped and synchronous
// calls report the failure.
type stream struct {
	ops  chan op
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error
}

func newStream(depth int) *stream {
	s := &stream{
		ops:  make(chan op, depth),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *stream) loop() {
	defer close(s.done)
	for o := range s.ops {
		if !o.always && s.sticky() != nil {
			continue
		}
		if err := o.fn(); err != nil && !o.always {
			s.setSticky(err)
		}
	}
}

// enqueue submits fn without waiting for it.
func (s *stream) enqueue(fn func() error, always bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errReleased
	}
	s.ops <- op{fn: fn, always: always}
	return nil
}

// call submits fn and waits for it to run. The sticky error, if any,
// takes precedence over fn, which is then not run.
func (s *stream) call(fn func() error) error {
	result := make(chan error, 1)
	err := s.enqueue(func() error {
		if err := s.sticky(); err != nil {
			result <- err
			return nil
		}
		result <- fn()
		return nil
	}, true)
	if err != nil {
		return err
	}
	return <-result
}

func (s *stream) sticky() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *stream) setSticky(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		log.Error.Printf("device: stream poisoned: %v", err)
		s.err = err
	}
}

func (s *stream) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()
	<-s.done
}
