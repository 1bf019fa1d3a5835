// Package match finds every occurrence of a short pattern in a byte buffer
// with a tiled parallel kernel on a device.
//
// The host side follows the usual accelerator sequence: allocate device
// copies of the data and pattern, zero the result storage, launch one
// worker per candidate offset in groups of len(pattern) workers, read the
// match count and offsets back, and free everything before returning.
package match

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/mhr3/tilematch/device"
	"github.com/mhr3/tilematch/timer"
)

// Config configures a Matcher.
type Config struct {
	// Partition selects the launch geometry.
	Partition Partition
}

// DefaultConfig returns the configuration used by Match.
func DefaultConfig() Config {
	return Config{Partition: PartitionExhaustive}
}

// Result is the outcome of one match operation.
type Result struct {
	// Offsets holds the match offsets in the order workers claimed their
	// slots, which is not sorted.
	Offsets []uint32
	// Count is the number of matches; it always equals len(Offsets).
	Count uint32
	// Elapsed is the kernel time in milliseconds, excluding allocation
	// and transfers.
	Elapsed float64
}

// Sorted returns the offsets in ascending order.
func (r Result) Sorted() []uint32 {
	out := slices.Clone(r.Offsets)
	slices.Sort(out)
	return out
}

// Matcher runs match operations on a device. A Matcher may be used
// concurrently; operations are serialized on the device stream.
type Matcher struct {
	dev *device.Device
	cfg Config
}

// New returns a matcher that launches on dev.
func New(dev *device.Device, cfg Config) *Matcher {
	return &Matcher{dev: dev, cfg: cfg}
}

// Device returns the matcher's device.
func (m *Matcher) Device() *device.Device { return m.dev }

// Config returns the matcher's configuration.
func (m *Matcher) Config() Config { return m.cfg }

var (
	defaultOnce    sync.Once
	defaultMatcher *Matcher
	defaultErr     error
)

// Match finds every occurrence of pattern in data on a process-wide
// default device.
func Match(data, pattern []byte) (Result, error) {
	defaultOnce.Do(func() {
		var dev *device.Device
		dev, defaultErr = device.New(device.DefaultConfig())
		if defaultErr == nil {
			defaultMatcher = New(dev, DefaultConfig())
		}
	})
	if defaultErr != nil {
		return Result{}, defaultErr
	}
	return defaultMatcher.Match(data, pattern)
}

// Match finds every occurrence of pattern in data, overlapping ones
// included. The pattern must be non-empty and at most MaxPatternLen bytes.
// Data shorter than the pattern yields an empty result.
func (m *Matcher) Match(data, pattern []byte) (Result, error) {
	if err := validate(data, pattern); err != nil {
		return Result{}, err
	}
	if len(data) < len(pattern) {
		return Result{Offsets: []uint32{}}, nil
	}
	return m.run(data, pattern)
}

func validate(data, pattern []byte) error {
	switch {
	case len(pattern) == 0:
		return errors.E(errors.Invalid, "match: empty pattern")
	case len(pattern) > MaxPatternLen:
		return errors.E(errors.Invalid,
			fmt.Sprintf("match: pattern length %d exceeds tile capacity %d", len(pattern), MaxPatternLen))
	case uint64(len(data)) > math.MaxUint32:
		return errors.E(errors.Invalid,
			fmt.Sprintf("match: data length %d does not fit 32-bit offsets", len(data)))
	}
	return nil
}

func (m *Matcher) run(data, pattern []byte) (res Result, err error) {
	var (
		dev        = m.dev
		dataLen    = len(data)
		targetLen  = len(pattern)
		groups     = m.cfg.Partition.Groups(dataLen, targetLen)
		allocated  []*device.Buffer
		allocOrErr = func(n int) *device.Buffer {
			if err != nil {
				return nil
			}
			var b *device.Buffer
			b, err = dev.Malloc(n)
			if b != nil {
				allocated = append(allocated, b)
			}
			return b
		}
	)
	defer func() {
		for _, b := range allocated {
			if ferr := dev.Free(b); ferr != nil && err == nil {
				err = ferr
			}
		}
		if err != nil {
			res = Result{}
		}
	}()

	dData := allocOrErr(dataLen)
	dTarget := allocOrErr(targetLen)
	dPositions := allocOrErr(4 * dataLen)
	dCount := allocOrErr(4)
	if err != nil {
		return Result{}, errors.E("match: allocating device memory", err)
	}

	for _, step := range []func() error{
		func() error { return dev.CopyToDevice(dData, data) },
		func() error { return dev.CopyToDevice(dTarget, pattern) },
		func() error { return dev.Memset(dPositions, 0) },
		func() error { return dev.Memset(dCount, 0) },
	} {
		if err = step(); err != nil {
			return Result{}, err
		}
	}

	log.Debug.Printf("match: dataLen=%d patternLen=%d groups=%d partition=%s",
		dataLen, targetLen, groups, m.cfg.Partition)

	tm := timer.New(dev)
	if err = tm.Start(); err != nil {
		return Result{}, err
	}
	kernel := stringMatchKernel(kernelArgs{
		data:      dData,
		dataLen:   dataLen,
		target:    dTarget,
		targetLen: targetLen,
		positions: dPositions,
		count:     dCount,
	})
	if err = dev.Launch(kernel, groups, targetLen, sharedBytes(targetLen)); err != nil {
		return Result{}, err
	}
	if err = tm.Stop(); err != nil {
		return Result{}, err
	}

	var count [1]uint32
	if err = dev.CopyFromDevice(device.AsBytes(count[:]), dCount); err != nil {
		return Result{}, err
	}
	offsets := make([]uint32, count[0])
	if err = dev.CopyFromDevice(device.AsBytes(offsets), dPositions); err != nil {
		return Result{}, err
	}
	if res.Elapsed, err = tm.Elapsed(); err != nil {
		return Result{}, err
	}
	res.Offsets, res.Count = offsets, count[0]
	return res, nil
}
