package device

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, cfg Config) *Device {
	t.Helper()
	dev, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(dev.Release)
	return dev
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{MemoryLimit: 0, MaxThreadsPerBlock: 1},
		{MemoryLimit: 1, MaxThreadsPerBlock: 0},
		{MemoryLimit: 1, MaxThreadsPerBlock: 1, SharedMemPerBlock: -1},
		{MemoryLimit: 1, MaxThreadsPerBlock: 1, Concurrency: -1},
	} {
		_, err := New(cfg)
		assert.True(t, errors.Is(errors.Invalid, err), "%+v: %v", cfg, err)
	}
}

func TestNewFillsConcurrency(t *testing.T) {
	dev := newTestDevice(t, Config{MemoryLimit: 64, MaxThreadsPerBlock: 4})
	cfg := dev.Config()
	assert.Equal(t, DefaultConfig().Concurrency, cfg.Concurrency)
	assert.EqualValues(t, 64, cfg.MemoryLimit)
	assert.Equal(t, 4, cfg.MaxThreadsPerBlock)
}

func TestMallocAccounting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimit = 100
	dev := newTestDevice(t, cfg)

	a, err := dev.Malloc(60)
	require.NoError(t, err)
	assert.Equal(t, 60, a.Len())
	assert.Len(t, a.Bytes(), 60)

	_, err = dev.Malloc(41)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.OOM, err), "got %v", err)

	b, err := dev.Malloc(40)
	require.NoError(t, err)
	assert.Equal(t, Stats{Allocated: 100, LiveBuffers: 2}, dev.Stats())

	require.NoError(t, dev.Free(a))
	require.NoError(t, dev.Free(a))
	require.NoError(t, dev.Free(b))
	assert.Equal(t, Stats{}, dev.Stats())

	empty, err := dev.Malloc(0)
	require.NoError(t, err)
	assert.Nil(t, empty.Uint32s())
	require.NoError(t, dev.Free(empty))
	assert.Zero(t, dev.Stats().LiveBuffers)
}

func TestTransfers(t *testing.T) {
	dev := newTestDevice(t, DefaultConfig())
	buf, err := dev.Malloc(16)
	require.NoError(t, err)
	defer dev.Free(buf)

	require.NoError(t, dev.CopyToDevice(buf, bytes.Repeat([]byte{0xAB}, 16)))
	out := make([]byte, 16)
	require.NoError(t, dev.CopyFromDevice(out, buf))
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, 16), out)

	require.NoError(t, dev.CopyToDevice(buf, []byte("tiled matching!!")))
	require.NoError(t, dev.CopyFromDevice(out, buf))
	assert.Equal(t, "tiled matching!!", string(out))

	require.NoError(t, dev.Memset(buf, 0))
	require.NoError(t, dev.CopyFromDevice(out[:4], buf))
	assert.Equal(t, []byte{0, 0, 0, 0}, out[:4])

	err = dev.CopyToDevice(buf, make([]byte, 17))
	assert.True(t, errors.Is(errors.Invalid, err))
	err = dev.CopyFromDevice(make([]byte, 17), buf)
	assert.True(t, errors.Is(errors.Invalid, err))

	stats := dev.Stats()
	assert.EqualValues(t, 32, stats.BytesUploaded)
	assert.EqualValues(t, 36, stats.BytesDownloaded)
}

func TestUint32View(t *testing.T) {
	dev := newTestDevice(t, DefaultConfig())
	buf, err := dev.Malloc(4 * 8)
	require.NoError(t, err)
	defer dev.Free(buf)
	require.NoError(t, dev.Memset(buf, 0))

	err = dev.Launch(func(th *Thread) {
		buf.Uint32s()[th.ThreadIdx] = uint32(th.ThreadIdx * 3)
	}, 1, 8, 0)
	require.NoError(t, err)

	words := make([]uint32, 8)
	require.NoError(t, dev.CopyFromDevice(AsBytes(words), buf))
	assert.Equal(t, []uint32{0, 3, 6, 9, 12, 15, 18, 21}, words)
}

func TestLaunchCoversGrid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 3
	dev := newTestDevice(t, cfg)

	const grid, block = 37, 16
	hits := make([]int32, grid*block)
	err := dev.Launch(func(th *Thread) {
		assert.Equal(t, grid, th.GridDim)
		atomic.AddInt32(&hits[th.GlobalIdx()], 1)
	}, grid, block, 0)
	require.NoError(t, err)
	require.NoError(t, dev.Synchronize())
	for i, h := range hits {
		require.EqualValues(t, 1, h, "thread %d", i)
	}
	stats := dev.Stats()
	assert.EqualValues(t, 1, stats.Launches)
	assert.EqualValues(t, grid, stats.Blocks)
}

func TestSharedMemoryAndBarrier(t *testing.T) {
	dev := newTestDevice(t, DefaultConfig())

	const grid, block = 8, 64
	out, err := dev.Malloc(grid * block)
	require.NoError(t, err)
	defer dev.Free(out)

	// Each block reverses its slice of the index space through shared
	// memory; any read before the barrier would observe a zero.
	err = dev.Launch(func(th *Thread) {
		sh := th.Shared()
		sh[th.ThreadIdx] = byte(th.ThreadIdx + 1)
		th.SyncThreads()
		out.Bytes()[th.GlobalIdx()] = sh[th.BlockDim-1-th.ThreadIdx]
	}, grid, block, block)
	require.NoError(t, err)

	got := make([]byte, grid*block)
	require.NoError(t, dev.CopyFromDevice(got, out))
	for b := 0; b < grid; b++ {
		for i := 0; i < block; i++ {
			require.EqualValues(t, block-i, got[b*block+i], "block %d thread %d", b, i)
		}
	}
}

func TestEarlyReturnDoesNotDeadlock(t *testing.T) {
	dev := newTestDevice(t, DefaultConfig())
	var synced atomic.Int32
	err := dev.Launch(func(th *Thread) {
		if th.ThreadIdx%2 == 0 {
			return
		}
		th.SyncThreads()
		synced.Add(1)
	}, 4, 32, 0)
	require.NoError(t, err)
	require.NoError(t, dev.Synchronize())
	assert.EqualValues(t, 4*16, synced.Load())
}

func TestLaunchValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxThreadsPerBlock = 32
	cfg.SharedMemPerBlock = 128
	dev := newTestDevice(t, cfg)
	noop := func(*Thread) {}

	for _, tc := range []struct {
		name                string
		kernel              Kernel
		grid, block, shared int
	}{
		{"nil kernel", nil, 1, 1, 0},
		{"zero grid", noop, 0, 1, 0},
		{"zero block", noop, 1, 0, 0},
		{"block too large", noop, 1, 33, 0},
		{"shared too large", noop, 1, 1, 129},
		{"negative shared", noop, 1, 1, -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := dev.Launch(tc.kernel, tc.grid, tc.block, tc.shared)
			assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
		})
	}
	assert.Zero(t, dev.Stats().Launches)
}

func TestKernelFaultPoisonsStream(t *testing.T) {
	dev := newTestDevice(t, DefaultConfig())
	buf, err := dev.Malloc(8)
	require.NoError(t, err)

	err = dev.Launch(func(th *Thread) {
		if th.BlockIdx == 1 && th.ThreadIdx == 0 {
			panic("out of bounds")
		}
		th.SyncThreads()
	}, 4, 4, 0)
	require.NoError(t, err, "launch errors are asynchronous")

	err = dev.Synchronize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of bounds")

	assert.Error(t, dev.CopyToDevice(buf, []byte("x")))
	assert.Error(t, dev.Free(buf))
	assert.Zero(t, dev.Stats().LiveBuffers, "a failed launch must not leak memory")
}

func TestEvents(t *testing.T) {
	dev := newTestDevice(t, DefaultConfig())
	start, stop := dev.NewEvent(), dev.NewEvent()

	_, err := ElapsedTime(start, stop)
	assert.True(t, errors.Is(errors.Precondition, err))
	assert.True(t, errors.Is(errors.Precondition, stop.Synchronize()))
	assert.False(t, stop.Query())

	require.NoError(t, start.Record())
	require.NoError(t, dev.Launch(func(*Thread) {
		time.Sleep(2 * time.Millisecond)
	}, 1, 1, 0))
	require.NoError(t, stop.Record())
	require.NoError(t, stop.Synchronize())
	assert.True(t, stop.Query())

	ms, err := ElapsedTime(start, stop)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ms, 2.0)
}

func TestReleasedDevice(t *testing.T) {
	dev, err := New(DefaultConfig())
	require.NoError(t, err)
	buf, err := dev.Malloc(4)
	require.NoError(t, err)
	dev.Release()
	dev.Release()

	_, err = dev.Malloc(4)
	assert.True(t, errors.Is(errors.Precondition, err))
	assert.True(t, errors.Is(errors.Precondition, dev.Launch(func(*Thread) {}, 1, 1, 0)))
	assert.True(t, errors.Is(errors.Precondition, dev.NewEvent().Record()))
	assert.True(t, errors.Is(errors.Precondition, dev.Synchronize()))
	assert.NoError(t, dev.Free(buf))
}
