// Package timer measures device work with stream events. Launches are
// asynchronous from the host's point of view, so host wall-clock time
// around a launch measures only its submission; the events instead stamp
// the moments the stream reaches Start and Stop.
package timer

import (
	"github.com/grailbio/base/errors"
	"github.com/mhr3/tilematch/device"
)

// Timer brackets device work between Start and Stop.
type Timer struct {
	start, stop *device.Event
	stopped     bool
}

// New returns a timer on dev's default stream.
func New(dev *device.Device) *Timer {
	return &Timer{start: dev.NewEvent(), stop: dev.NewEvent()}
}

// Start records the start event.
func (t *Timer) Start() error {
	t.stopped = false
	return t.start.Record()
}

// Stop records the stop event.
func (t *Timer) Stop() error {
	if err := t.stop.Record(); err != nil {
		return err
	}
	t.stopped = true
	return nil
}

// Elapsed blocks until the device has reached the stop event and returns
// the milliseconds between Start and Stop. Once Elapsed returns, all work
// submitted before Stop has completed.
func (t *Timer) Elapsed() (float64, error) {
	if !t.stopped {
		return 0, errors.E(errors.Precondition, "timer: Elapsed called before Stop")
	}
	if err := t.stop.Synchronize(); err != nil {
		return 0, err
	}
	ms, err := device.ElapsedTime(t.start, t.stop)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		ms = 0
	}
	return ms, nil
}
