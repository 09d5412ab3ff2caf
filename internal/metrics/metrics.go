// Package metrics is a tiny facade between the import engine and whatever
// metrics backend the binary wires in. The engine only ever calls the
// package-level helpers; the default backend is a nop, so library users pay
// nothing unless a binary calls SetBackend.
package metrics

import "sync"

// Backend receives import run metrics.
type Backend interface {
	// IncCounter adds delta to a named counter (e.g. "import.created").
	IncCounter(name string, delta float64)

	// ObserveDuration records one run/batch duration sample in seconds.
	ObserveDuration(name string, seconds float64)

	// Flush submits buffered metrics. Called at end of run.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64)      {}
func (nopBackend) ObserveDuration(string, float64) {}
func (nopBackend) Flush() error                    { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the active backend. Safe to call once at startup.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func IncCounter(name string, delta float64) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.IncCounter(name, delta)
}

func ObserveDuration(name string, seconds float64) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.ObserveDuration(name, seconds)
}

func Flush() error {
	mu.RLock()
	b := backend
	mu.RUnlock()
	return b.Flush()
}
