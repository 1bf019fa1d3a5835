package match

import (
	"github.com/coregx/coregex/simd"
	"github.com/mhr3/tilematch/internal/bytealg"
)

// Scan finds every occurrence of pattern in data sequentially on the host.
// Offsets are ascending. Scan is the reference Match is checked against.
func Scan(data, pattern []byte) []uint32 {
	return bytealg.IndexAll(make([]uint32, 0, 8), data, pattern)
}

// TerminatedLen returns the number of bytes before the first NUL in buf, or
// len(buf) if there is none.
func TerminatedLen(buf []byte) int {
	if i := simd.Memchr(buf, 0); i >= 0 {
		return i
	}
	return len(buf)
}
