package exchange

import (
	"sort"
	"sync"
)

// FieldTemperature is the name of the temperature field.
const FieldTemperature = "temperature"

// Fields is a set of named nodal fields.
type Fields struct {
	mu     sync.RWMutex
	values map[string][]float64
}

// NewFields creates an empty field set.
func NewFields() *Fields {
	return &Fields{values: make(map[string][]float64)}
}

// Set registers the vector of a field. The vector is shared, not copied, so
// that the solver and the exchanger see the same values.
func (f *Fields) Set(name string, values []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.values[name] = values
}

// Get returns the vector of a field.
func (f *Fields) Get(name string) ([]float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	v, ok := f.values[name]

	return v, ok
}

// Names lists the registered fields in alphabetical order.
func (f *Fields) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.values))
	for n := range f.values {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}
