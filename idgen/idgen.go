// Package idgen hands out identifiers for protocol messages, boundaries and
// runs.
package idgen

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// Generator produces unique identifiers.
type Generator interface {
	Generate() string
}

var (
	mu       sync.Mutex
	selected Generator
)

// Get returns the process-wide message ID generator. Message IDs count up
// from 1 within a process and only need to pair requests with responses.
func Get() Generator {
	mu.Lock()
	defer mu.Unlock()

	if selected == nil {
		selected = &sequential{}
	}

	return selected
}

// NewRunID returns a globally unique ID for a run, independent of the
// message ID generator.
func NewRunID() string {
	return xid.New().String()
}

// NewBoundaryID returns a globally unique boundary identifier. Both peers
// compare this value to make sure their mappings describe the same boundary.
func NewBoundaryID() string {
	return "bnd-" + xid.New().String()
}

type sequential struct {
	next uint64
}

func (g *sequential) Generate() string {
	return strconv.FormatUint(atomic.AddUint64(&g.next, 1), 10)
}
