// Package device simulates a SIMT accelerator on the host: a global memory
// with an allocation budget, a single in-order stream, asynchronous kernel
// launches over a grid of blocks, per-block shared memory and barriers, and
// timestamp events recorded on the stream.
//
// Usage:
//
//	dev, err := device.New(device.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer dev.Release()
//
//	buf, err := dev.Malloc(len(data))
//	...
//	err = dev.Launch(kernel, grid, block, shared)
//	...
//	err = dev.CopyFromDevice(out, buf)
package device

import (
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/log"
	pool "github.com/libp2p/go-buffer-pool"
	"golang.org/x/sys/cpu"
)

// streamDepth is the number of ops that can be queued before the host
// blocks on submission.
const streamDepth = 64

// Device is a simulated accelerator. A Device is safe for concurrent use,
// though all work is serialized on its default stream.
type Device struct {
	cfg    Config
	stream *stream
	pool   *pool.BufferPool

	memMu     sync.Mutex
	allocated int64
	live      int

	stats counters

	releaseOnce sync.Once
	released    atomic.Bool
}

// counters are updated from every block of a launch; keep them on separate
// cache lines.
type counters struct {
	launches        atomic.Int64
	_               cpu.CacheLinePad
	blocks          atomic.Int64
	_               cpu.CacheLinePad
	bytesUploaded   atomic.Int64
	_               cpu.CacheLinePad
	bytesDownloaded atomic.Int64
}

// Stats reports device usage since creation.
type Stats struct {
	Launches        int64
	Blocks          int64
	BytesUploaded   int64
	BytesDownloaded int64
	// Allocated is the number of bytes currently held by live buffers.
	Allocated int64
	// LiveBuffers is the number of buffers not yet freed.
	LiveBuffers int
}

// New creates a device with the given configuration.
func New(cfg Config) (*Device, error) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := &Device{
		cfg:    cfg,
		stream: newStream(streamDepth),
		pool:   new(pool.BufferPool),
	}
	log.Debug.Printf("device: created (memory=%d threads/block=%d shared/block=%d concurrency=%d)",
		cfg.MemoryLimit, cfg.MaxThreadsPerBlock, cfg.SharedMemPerBlock, cfg.Concurrency)
	return d, nil
}

// Config returns the configuration the device was created with.
func (d *Device) Config() Config { return d.cfg }

// Synchronize blocks until all previously submitted work has completed and
// returns the error of the first failed launch, if any.
func (d *Device) Synchronize() error {
	return d.stream.call(func() error { return nil })
}

// Release drains the stream and shuts the device down. Buffers still live
// are returned to the pool. Further use of the device fails with a
// Precondition error.
func (d *Device) Release() {
	d.releaseOnce.Do(func() {
		d.released.Store(true)
		d.stream.close()
		d.memMu.Lock()
		if d.live > 0 {
			log.Debug.Printf("device: released with %d live buffers (%d bytes)", d.live, d.allocated)
		}
		d.memMu.Unlock()
	})
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	d.memMu.Lock()
	allocated, live := d.allocated, d.live
	d.memMu.Unlock()
	return Stats{
		Launches:        d.stats.launches.Load(),
		Blocks:          d.stats.blocks.Load(),
		BytesUploaded:   d.stats.bytesUploaded.Load(),
		BytesDownloaded: d.stats.bytesDownloaded.Load(),
		Allocated:       allocated,
		LiveBuffers:     live,
	}
}

func (d *Device) checkLive() error {
	if d.released.Load() {
		return errReleased
	}
	return nil
}
