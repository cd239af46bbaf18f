// Package runtimes enumerates the interpreter matrix for a run and
// probes which entries are actually installed. The matrix is resolved
// once at startup and immutable afterwards.
package runtimes

import (
	"errors"
	"os/exec"
	"sort"

	goversion "github.com/hashicorp/go-version"
)

// Impl identifies an interpreter implementation family.
type Impl string

const (
	// CPython is the reference implementation.
	CPython Impl = "cpython"
	// PyPy is the tracing-JIT alternate implementation.
	PyPy Impl = "pypy"
	// Jython is the JVM alternate implementation.
	Jython Impl = "jython"
)

// Reference reports whether the implementation is the reference one.
func (i Impl) Reference() bool { return i == CPython }

// Spec identifies one interpreter the code under test may be executed
// against. Path and Available are set by the probe and never change
// for the rest of the run.
type Spec struct {
	Name    string `yaml:"name"`           // e.g. "python2.7"
	Version string `yaml:"version"`        // e.g. "2.7"
	Impl    Impl   `yaml:"implementation"` // cpython, pypy, jython
	Binary  string `yaml:"binary"`         // binary name resolved via PATH

	Path      string `yaml:"-"` // resolved absolute path, empty if unavailable
	Available bool   `yaml:"-"`
}

// ID returns the stable identity used to key outcomes and report rows.
func (s Spec) ID() string { return s.Name }

// DefaultMatrix returns the interpreter set tested when no matrix is
// configured: the supported CPython versions plus the alternate
// implementations.
func DefaultMatrix() []Spec {
	return []Spec{
		{Name: "python2.6", Version: "2.6", Impl: CPython, Binary: "python2.6"},
		{Name: "python2.7", Version: "2.7", Impl: CPython, Binary: "python2.7"},
		{Name: "python3.3", Version: "3.3", Impl: CPython, Binary: "python3.3"},
		{Name: "python3.4", Version: "3.4", Impl: CPython, Binary: "python3.4"},
		{Name: "python3.5", Version: "3.5", Impl: CPython, Binary: "python3.5"},
		{Name: "pypy", Version: "2.7", Impl: PyPy, Binary: "pypy"},
		{Name: "jython", Version: "2.7", Impl: Jython, Binary: "jython"},
	}
}

// ErrNoRuntimes is returned when not a single configured interpreter
// resolved to an executable binary. There is nothing to test against,
// so the whole run fails.
var ErrNoRuntimes = errors.New("no configured runtime is available")

// Registry holds the probed runtime set for one run.
type Registry struct {
	specs []Spec
}

// New probes each configured spec for an executable interpreter binary
// and marks availability. A missing binary does not fail the run; only
// an empty result does.
func New(specs []Spec) (*Registry, error) {
	probed := make([]Spec, len(specs))
	available := 0
	for i, s := range specs {
		if path, err := exec.LookPath(s.Binary); err == nil {
			s.Path = path
			s.Available = true
			available++
		}
		probed[i] = s
	}
	if available == 0 {
		return nil, ErrNoRuntimes
	}
	Sort(probed)
	return &Registry{specs: probed}, nil
}

// List returns the probed specs in stable order. The returned slice is
// a copy; the registry itself never mutates after New.
func (r *Registry) List() []Spec {
	out := make([]Spec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Sort orders specs deterministically: reference implementation first,
// then alternates by implementation name, ascending version within an
// implementation, name as the final tie-break.
func Sort(specs []Spec) {
	sort.SliceStable(specs, func(i, j int) bool {
		a, b := specs[i], specs[j]
		if a.Impl.Reference() != b.Impl.Reference() {
			return a.Impl.Reference()
		}
		if a.Impl != b.Impl {
			return a.Impl < b.Impl
		}
		av, aerr := goversion.NewVersion(a.Version)
		bv, berr := goversion.NewVersion(b.Version)
		if aerr == nil && berr == nil && !av.Equal(bv) {
			return av.LessThan(bv)
		}
		return a.Name < b.Name
	})
}
