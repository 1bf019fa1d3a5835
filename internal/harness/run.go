package harness

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/mhr3/tilematch/match"
)

// Report summarizes a run. Times are kernel milliseconds as measured by
// the device timer.
type Report struct {
	Trials int
	Mean   float64
	Min    float64
	Max    float64
	Total  float64
	// Offsets are the sorted match offsets; every trial agreed on them.
	Offsets []uint32
}

func (r Report) String() string {
	return fmt.Sprintf("trials=%d matches=%d mean=%.4fms min=%.4fms max=%.4fms",
		r.Trials, len(r.Offsets), r.Mean, r.Min, r.Max)
}

// Run matches w on m w.Trials times. Each trial is checked against a
// sequential scan; a disagreement fails the run with an Integrity error.
// Cancellation is observed between trials.
func Run(ctx context.Context, m *match.Matcher, w Workload) (Report, error) {
	if err := w.Validate(); err != nil {
		return Report{}, err
	}
	data, pattern := w.Buffers()
	want := match.Scan(data, pattern)
	log.Debug.Printf("harness: dataLen=%d patternLen=%d trials=%d expected=%d",
		len(data), len(pattern), w.Trials, len(want))

	rep := Report{Min: math.Inf(1), Offsets: want}
	for trial := 0; trial < w.Trials; trial++ {
		if err := ctx.Err(); err != nil {
			return Report{}, errors.E(fmt.Sprintf("harness: stopped after %d trials", trial), err)
		}
		res, err := m.Match(data, pattern)
		if err != nil {
			return Report{}, errors.E(fmt.Sprintf("harness: trial %d", trial), err)
		}
		if got := res.Sorted(); !slices.Equal(got, want) || int(res.Count) != len(want) {
			return Report{}, errors.E(errors.Integrity,
				fmt.Sprintf("harness: trial %d: %d matches %v, want %d matches %v",
					trial, res.Count, head(got), len(want), head(want)))
		}
		rep.Trials++
		rep.Total += res.Elapsed
		rep.Min = min(rep.Min, res.Elapsed)
		rep.Max = max(rep.Max, res.Elapsed)
	}
	rep.Mean = rep.Total / float64(rep.Trials)
	return rep, nil
}

func head(offsets []uint32) []uint32 {
	const n = 8
	if len(offsets) > n {
		return offsets[:n]
	}
	return offsets
}
