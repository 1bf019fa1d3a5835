package device

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/mhr3/tilematch/internal/barrier"
)

// A Kernel is the body executed by every thread of a launch.
type Kernel func(t *Thread)

// Thread is the execution context of one kernel thread.
type Thread struct {
	GridDim   int
	BlockIdx  int
	BlockDim  int
	ThreadIdx int

	shared  []byte
	barrier *barrier.Barrier
}

// GlobalIdx returns BlockDim*BlockIdx + ThreadIdx.
func (t *Thread) GlobalIdx() int {
	return t.BlockDim*t.BlockIdx + t.ThreadIdx
}

// Shared returns the block's shared memory. It is zeroed when the block
// starts and is visible to every thread of the block.
func (t *Thread) Shared() []byte { return t.shared }

// SyncThreads blocks until every live thread of the block has reached it.
// Shared memory writes made before SyncThreads are visible to the whole
// block after it.
func (t *Thread) SyncThreads() { t.barrier.Wait() }

// Launch submits kernel for execution over gridDim blocks of blockDim
// threads, each block receiving sharedBytes of shared memory. Launch
// returns once the launch is queued; completion is observed through
// Synchronize, an event, or a transfer from the device. A kernel that
// panics fails the launch and poisons the stream.
func (d *Device) Launch(kernel Kernel, gridDim, blockDim, sharedBytes int) error {
	if err := d.checkLive(); err != nil {
		return err
	}
	switch {
	case kernel == nil:
		return errors.E(errors.Invalid, "device: nil kernel")
	case gridDim <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("device: invalid grid dimension %d", gridDim))
	case blockDim <= 0 || blockDim > d.cfg.MaxThreadsPerBlock:
		return errors.E(errors.Invalid, fmt.Sprintf("device: block dimension %d outside [1, %d]", blockDim, d.cfg.MaxThreadsPerBlock))
	case sharedBytes < 0 || sharedBytes > d.cfg.SharedMemPerBlock:
		return errors.E(errors.Invalid, fmt.Sprintf("device: %d bytes of shared memory requested, %d available", sharedBytes, d.cfg.SharedMemPerBlock))
	}
	d.stats.launches.Add(1)
	log.Debug.Printf("device: launch grid=%d block=%d shared=%d", gridDim, blockDim, sharedBytes)
	return d.stream.enqueue(func() error {
		return d.runGrid(kernel, gridDim, blockDim, sharedBytes)
	}, false)
}

func (d *Device) runGrid(kernel Kernel, gridDim, blockDim, sharedBytes int) error {
	t := traverse.T{Limit: d.cfg.Concurrency}
	return t.Each(gridDim, func(block int) error {
		d.stats.blocks.Add(1)
		return d.runBlock(kernel, gridDim, block, blockDim, sharedBytes)
	})
}

// runBlock runs one block to completion: one goroutine per thread, all
// sharing the block's shared memory and barrier.
func (d *Device) runBlock(kernel Kernel, gridDim, block, blockDim, sharedBytes int) error {
	shared := d.pool.Get(sharedBytes)
	clear(shared)
	defer d.pool.Put(shared)

	var (
		bar = barrier.New(blockDim)
		err errors.Once
		wg  sync.WaitGroup
	)
	wg.Add(blockDim)
	for tid := 0; tid < blockDim; tid++ {
		go func(tid int) {
			defer wg.Done()
			defer bar.Leave()
			th := Thread{
				GridDim:   gridDim,
				BlockIdx:  block,
				BlockDim:  blockDim,
				ThreadIdx: tid,
				shared:    shared,
				barrier:   bar,
			}
			err.Set(invoke(kernel, &th))
		}(tid)
	}
	wg.Wait()
	return err.Err()
}

func invoke(kernel Kernel, t *Thread) (err error) {
	defer func() {
		if perr := recover(); perr != nil {
			err = errors.E(errors.Fatal, fmt.Sprintf("device: kernel fault in block %d thread %d: %v\n%s",
				t.BlockIdx, t.ThreadIdx, perr, debug.Stack()))
		}
	}()
	kernel(t)
	return nil
}
