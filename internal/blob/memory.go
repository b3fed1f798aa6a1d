package blob

import (
	memorystore "idxform/internal/infra/blob/memory"
)

// NewMemory returns an in-memory blob.Store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// newMemoryStore is a test-local alias for NewMemory.
func newMemoryStore() Store { return NewMemory() }
