package device

import (
	"runtime"

	"github.com/grailbio/base/errors"
)

// Config describes the resources of a simulated device.
type Config struct {
	// MemoryLimit is the number of bytes Malloc may hand out before
	// failing with an OOM error.
	MemoryLimit int64
	// MaxThreadsPerBlock bounds the block dimension of a launch.
	MaxThreadsPerBlock int
	// SharedMemPerBlock bounds the shared memory requested by a launch.
	SharedMemPerBlock int
	// Concurrency is the number of blocks resident at the same time.
	// Zero selects 2*GOMAXPROCS.
	Concurrency int
}

// DefaultConfig mirrors a commodity GPU: 1 GiB of global memory, 1024
// threads and 48 KiB of shared memory per block.
func DefaultConfig() Config {
	return Config{
		MemoryLimit:        1 << 30,
		MaxThreadsPerBlock: 1024,
		SharedMemPerBlock:  48 << 10,
		Concurrency:        2 * runtime.GOMAXPROCS(0),
	}
}

func (c Config) validate() error {
	switch {
	case c.MemoryLimit <= 0:
		return errors.E(errors.Invalid, "device: memory limit must be positive")
	case c.MaxThreadsPerBlock <= 0:
		return errors.E(errors.Invalid, "device: max threads per block must be positive")
	case c.SharedMemPerBlock < 0:
		return errors.E(errors.Invalid, "device: negative shared memory per block")
	case c.Concurrency < 0:
		return errors.E(errors.Invalid, "device: negative concurrency")
	}
	return nil
}
