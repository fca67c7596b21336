package bpp

import (
	"sync"

	"github.com/bpp-build/bpp/fingerprint"
)

// Fingerprint is re-exported for configure scripts; see the
// fingerprint package for the composition rules.
type Fingerprint = fingerprint.Fingerprint

// HashFunc derives a step's fingerprint from the unordered fold of its
// dependencies' fingerprints. Implementations may mix in file
// contents, stable identifier strings and resolved input paths; they
// run after every input step has completed.
type HashFunc func(Fingerprint) (Fingerprint, error)

// ActionFunc materialises a step. It receives the single output path
// the step must write (file or directory); if the path exists
// afterwards it is promoted into the cache.
type ActionFunc func(out string) error

// LazyPath refers either to a plain filesystem path or into another
// step's artifact. With a non-nil Step, Path is an optional sub-path
// inside that step's output directory.
type LazyPath struct {
	Step *Step
	Path string
}

// StepOptions name and classify a step at creation time.
type StepOptions struct {
	Name string
	Desc string
	// Phony steps never short-circuit on the cache; they run whenever
	// scheduled.
	Phony bool
	// Silent steps produce no progress line.
	Silent bool
}

// Step is one node of the build graph: deterministic inputs folded
// into a fingerprint, and a single action producing one filesystem
// entry. Steps are created during the configure phase and immutable
// afterwards except for the fingerprint (set once) and the completion
// latch.
type Step struct {
	opts   StepOptions
	deps   []*Step
	inputs []LazyPath

	// Hash is the step's hash closure. A nil Hash passes the
	// dependency fold through unchanged.
	Hash HashFunc
	// Action is the step's action closure. A nil Action produces no
	// output.
	Action ActionFunc

	fp    Fingerprint
	fpSet bool

	done     chan struct{}
	doneOnce sync.Once
}

func newStep(opts StepOptions) *Step {
	return &Step{opts: opts, done: make(chan struct{})}
}

// Name returns the step's unique name.
func (s *Step) Name() string { return s.opts.Name }

// Desc returns the step's description.
func (s *Step) Desc() string { return s.opts.Desc }

// Phony reports whether the step bypasses the cache.
func (s *Step) Phony() bool { return s.opts.Phony }

// DependOn adds a plain dependency: other must complete before s runs,
// but s does not consume its artifact.
func (s *Step) DependOn(other *Step) {
	s.deps = append(s.deps, other)
}

// AddInput appends an input edge. Inputs complete before s's hash
// closure runs, and their resolved artifact paths are readable from
// the action.
func (s *Step) AddInput(in LazyPath) {
	s.inputs = append(s.inputs, in)
}

// Fingerprint returns the step's resolved fingerprint. Valid only
// after the step completed.
func (s *Step) Fingerprint() Fingerprint { return s.fp }

// markCompleted releases every waiter. One-shot; later calls are
// no-ops.
func (s *Step) markCompleted() {
	s.doneOnce.Do(func() { close(s.done) })
}

// isCompleted reports completion without blocking.
func (s *Step) isCompleted() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// waitCompleted blocks until the step completes. The channel close
// also publishes the fingerprint to the waiter.
func (s *Step) waitCompleted() {
	<-s.done
}
