package match

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// Partition selects how many groups a launch uses for a given data and
// pattern length. Groups always have one worker per pattern byte.
type Partition int

const (
	// PartitionExhaustive launches ceil(dataLen/patternLen) groups so that
	// every byte of data has a worker.
	PartitionExhaustive Partition = iota
	// PartitionTruncated launches floor(dataLen/patternLen) groups, the
	// geometry the published benchmark numbers were gathered with. The last
	// full group already reaches offset dataLen-patternLen, so no candidate
	// offset is lost; only the trailing workers of an exhaustive launch,
	// which never compare, are omitted.
	PartitionTruncated
)

// Groups returns the number of groups launched for the given lengths.
func (p Partition) Groups(dataLen, patternLen int) int {
	if patternLen <= 0 {
		return 0
	}
	if p == PartitionTruncated {
		return dataLen / patternLen
	}
	return (dataLen + patternLen - 1) / patternLen
}

// Covered returns the number of leading candidate offsets that have a
// worker. Both partitions cover every offset in [0, dataLen-patternLen].
func (p Partition) Covered(dataLen, patternLen int) int {
	if patternLen <= 0 || dataLen < patternLen {
		return 0
	}
	return min(p.Groups(dataLen, patternLen)*patternLen, dataLen-patternLen+1)
}

func (p Partition) String() string {
	switch p {
	case PartitionExhaustive:
		return "exhaustive"
	case PartitionTruncated:
		return "truncated"
	default:
		return fmt.Sprintf("partition(%d)", int(p))
	}
}

// ParsePartition parses the name returned by Partition.String.
func ParsePartition(s string) (Partition, error) {
	switch strings.ToLower(s) {
	case "", "exhaustive":
		return PartitionExhaustive, nil
	case "truncated":
		return PartitionTruncated, nil
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("match: unknown partition %q", s))
}
