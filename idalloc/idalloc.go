// Package idalloc hands out process-wide unique object IDs.
package idalloc

import (
	"math"
	"sync"

	"cs-router/errors"
	"cs-router/message"
)

// Allocator is a monotonic counter. IDs up to message.LastReservedID are
// well-known and never returned by Next.
type Allocator struct {
	mu   sync.Mutex
	last message.ID
}

// New returns an allocator whose first ID follows the reserved range.
func New() *Allocator {
	return &Allocator{last: message.LastReservedID}
}

// Next returns a fresh ID, strictly greater than every ID returned before.
// Once the largest ID has been handed out every call fails with ErrIDsExhausted.
func (a *Allocator) Next() (message.ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == math.MaxUint32 {
		return message.NullID, errors.ErrIDsExhausted
	}
	a.last++
	return a.last, nil
}

// Last returns the most recently allocated ID, or LastReservedID if none was.
func (a *Allocator) Last() message.ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// IsReserved reports whether id belongs to the well-known range.
func IsReserved(id message.ID) bool {
	return id <= message.LastReservedID
}
