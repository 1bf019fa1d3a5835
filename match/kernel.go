package match

import (
	"sync/atomic"

	"github.com/mhr3/tilematch/device"
)

// MaxPatternLen is the tile capacity: the longest pattern a group can
// stage, and so the largest group size.
const MaxPatternLen = 1024

// sharedBytes is the shared memory a group needs for a pattern of length
// n: a data tile of 2n bytes followed by a pattern tile of n bytes.
func sharedBytes(n int) int { return 3 * n }

type kernelArgs struct {
	data      *device.Buffer
	dataLen   int
	target    *device.Buffer
	targetLen int
	positions *device.Buffer
	count     *device.Buffer
}

// stringMatchKernel returns the matching kernel. Each group stages the
// 2*targetLen data bytes its windows span, plus the pattern, into shared
// memory; after the barrier every worker compares its own window from the
// tiles and claims an output slot for a match with an atomic increment.
func stringMatchKernel(args kernelArgs) device.Kernel {
	return func(t *device.Thread) {
		var (
			n       = args.targetLen
			dataLen = args.dataLen
			data    = args.data.Bytes()
			shared  = t.Shared()
			tile    = shared[:2*n]
			target  = shared[2*n : 3*n]
			tid     = t.ThreadIdx
			index   = t.GlobalIdx()
		)

		// Stage. The last group of an exhaustive launch straddles the data
		// end, so both loads are guarded.
		if index < dataLen {
			tile[tid] = data[index]
		}
		if index+n < dataLen {
			tile[tid+n] = data[index+n]
		}
		target[tid] = args.target.Bytes()[tid]
		t.SyncThreads()

		if index+n > dataLen {
			return
		}
		if tile[tid] != target[0] {
			return
		}
		for i := 1; i < n; i++ {
			if tile[tid+i] != target[i] {
				return
			}
		}

		slot := atomic.AddUint32(&args.count.Uint32s()[0], 1) - 1
		args.positions.Uint32s()[slot] = uint32(index)
	}
}
