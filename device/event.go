package device

import (
	"sync"
	"time"

	"github.com/grailbio/base/errors"
)

// Event is a timestamp marker on the device stream. It completes once the
// stream reaches it, that is after all work submitted before it.
type Event struct {
	dev *Device

	mu  sync.Mutex
	rec *eventRecord
}

type eventRecord struct {
	done chan struct{}
	at   time.Time
}

// NewEvent returns an unrecorded event.
func (d *Device) NewEvent() *Event {
	return &Event{dev: d}
}

// Record places the event on the stream, replacing any earlier recording.
func (e *Event) Record() error {
	if err := e.dev.checkLive(); err != nil {
		return err
	}
	rec := &eventRecord{done: make(chan struct{})}
	err := e.dev.stream.enqueue(func() error {
		rec.at = time.Now()
		close(rec.done)
		return nil
	}, true)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rec = rec
	e.mu.Unlock()
	return nil
}

// Synchronize blocks until the stream has reached the event.
func (e *Event) Synchronize() error {
	rec, err := e.recorded()
	if err != nil {
		return err
	}
	<-rec.done
	return nil
}

// Query reports whether the event has been recorded and reached.
func (e *Event) Query() bool {
	rec, err := e.recorded()
	if err != nil {
		return false
	}
	select {
	case <-rec.done:
		return true
	default:
		return false
	}
}

func (e *Event) recorded() (*eventRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return nil, errors.E(errors.Precondition, "device: event was never recorded")
	}
	return e.rec, nil
}

// ElapsedTime returns the time in milliseconds between two completed
// events. It fails with an Unavailable error if either event has not yet
// been reached.
func ElapsedTime(start, stop *Event) (float64, error) {
	for _, e := range []*Event{start, stop} {
		if _, err := e.recorded(); err != nil {
			return 0, err
		}
		if !e.Query() {
			return 0, errors.E(errors.Unavailable, "device: event not ready")
		}
	}
	begin, _ := start.recorded()
	end, _ := stop.recorded()
	return float64(end.at.Sub(begin.at)) / float64(time.Millisecond), nil
}
