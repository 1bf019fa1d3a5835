// Package harness repeats a match workload on a device and reports kernel
// timings.
package harness

import (
	"fmt"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/mhr3/tilematch/match"
	"gopkg.in/yaml.v3"
)

// Workload describes one benchmark: the text and pattern are copied into
// NUL-terminated buffers of BufferSize bytes and matched Trials times.
type Workload struct {
	Text       string `yaml:"text"`
	Pattern    string `yaml:"pattern"`
	Trials     int    `yaml:"trials"`
	BufferSize int    `yaml:"buffer_size"`
	// Partition names a match.Partition; empty selects the default.
	Partition string `yaml:"partition"`
}

// Default returns the classic workload: two occurrences of "ipsum" in a
// short Lorem ipsum line, matched 1000 times out of 1 MiB buffers.
func Default() Workload {
	return Workload{
		Text:       "Lorem ipsum adore itom Lorem ipsum",
		Pattern:    "ipsum",
		Trials:     1000,
		BufferSize: 1 << 20,
	}
}

// Load reads a YAML workload from path. Fields missing from the file keep
// their Default values.
func Load(path string) (Workload, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Workload{}, errors.E(fmt.Sprintf("harness: reading workload %s", path), err)
	}
	return Parse(b)
}

// Parse decodes a YAML workload over Default.
func Parse(b []byte) (Workload, error) {
	w := Default()
	if err := yaml.Unmarshal(b, &w); err != nil {
		return Workload{}, errors.E(errors.Invalid, "harness: decoding workload", err)
	}
	if err := w.Validate(); err != nil {
		return Workload{}, err
	}
	return w, nil
}

// Validate reports whether w can be run.
func (w Workload) Validate() error {
	switch {
	case w.Pattern == "":
		return errors.E(errors.Invalid, "harness: empty pattern")
	case w.Trials <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("harness: trials must be positive, got %d", w.Trials))
	case w.BufferSize <= len(w.Text) || w.BufferSize <= len(w.Pattern):
		return errors.E(errors.Invalid,
			fmt.Sprintf("harness: buffer size %d leaves no room for the terminator", w.BufferSize))
	}
	if _, err := match.ParsePartition(w.Partition); err != nil {
		return err
	}
	return nil
}

// MatchConfig returns the matcher configuration the workload asks for.
func (w Workload) MatchConfig() (match.Config, error) {
	p, err := match.ParsePartition(w.Partition)
	if err != nil {
		return match.Config{}, err
	}
	cfg := match.DefaultConfig()
	cfg.Partition = p
	return cfg, nil
}

// Buffers returns the data and pattern as the matcher sees them: each is
// copied into a zeroed BufferSize buffer and cut at the first NUL. Text
// containing a NUL is therefore truncated there.
func (w Workload) Buffers() (data, pattern []byte) {
	data = make([]byte, w.BufferSize)
	copy(data, w.Text)
	pattern = make([]byte, w.BufferSize)
	copy(pattern, w.Pattern)
	return data[:match.TerminatedLen(data)], pattern[:match.TerminatedLen(pattern)]
}
