// Package bytealg holds the sequential exact-match routines that serve as
// the reference for the parallel matcher and as its CPU baseline.
package bytealg

import (
	"bytes"

	"github.com/coregx/coregex/simd"
)

// Index finds the first exact match of needle in haystack.
func Index(haystack, needle []byte) int {
	n := len(needle)
	if n == 0 {
		return 0
	}
	if len(haystack) < n {
		return -1
	}

	// Quick check for position-0 match - avoids the memchr setup
	if haystack[0] == needle[0] && bytes.Equal(haystack[:n], needle) {
		return 0
	}
	return simd.Memmem(haystack, needle)
}

// IndexAll appends to dst the offset of every match of needle in haystack,
// in ascending order. Overlapping matches are all reported. An empty needle
// reports nothing.
func IndexAll(dst []uint32, haystack, needle []byte) []uint32 {
	n := len(needle)
	if n == 0 {
		return dst
	}
	for pos := 0; pos+n <= len(haystack); {
		i := Index(haystack[pos:], needle)
		if i < 0 {
			break
		}
		dst = append(dst, uint32(pos+i))
		// Resume one past the match start so overlaps are not skipped.
		pos += i + 1
	}
	return dst
}
