// Package memorybudget enforces the index manager's write-admission limits:
// a cap on concurrent writers, a cap on a single document's size, and a cap
// on total buffered bytes. It is enforcement, not policy — the numbers
// themselves live in internal/config.
package memorybudget

import (
	"sync/atomic"

	"github.com/flapjack/flapjack/internal/errs"
)

// Budget gates writer admission. Clones (copies of the struct) share the
// same underlying counter since activeWriters is a pointer. The index
// manager holds a single *Budget for all its tenants, so every tenant
// shares one process-wide writer cap.
type Budget struct {
	maxBufferBytes int64
	maxWriters     int64
	maxDocBytes    int64
	activeWriters  *atomic.Int64
}

// New builds a Budget from byte-denominated limits.
func New(maxBufferBytes int64, maxConcurrentWriters int, maxDocBytes int64) *Budget {
	return &Budget{
		maxBufferBytes: maxBufferBytes,
		maxWriters:     int64(maxConcurrentWriters),
		maxDocBytes:    maxDocBytes,
		activeWriters:  new(atomic.Int64),
	}
}

// WriterGuard must be released exactly once, on every exit path, to return
// the writer slot it holds. The zero value is not meaningful; only Budget
// issues these.
type WriterGuard struct {
	counter  *atomic.Int64
	released atomic.Bool
}

// Release returns the writer slot. Safe to call more than once; only the
// first call has effect, so defer'ing it alongside an early-return error
// path is always safe.
func (g *WriterGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.counter.Add(-1)
	}
}

// AcquireWriter atomically reserves a writer slot. If the reservation would
// exceed the configured maximum, the attempt is rolled back and
// KindTooManyConcurrentWrites is returned without acquiring a slot.
func (b *Budget) AcquireWriter() (*WriterGuard, error) {
	current := b.activeWriters.Add(1)
	if current > b.maxWriters {
		b.activeWriters.Add(-1)
		return nil, errs.New("memorybudget.AcquireWriter", errs.KindTooManyConcurrentWrites, nil)
	}
	return &WriterGuard{counter: b.activeWriters}, nil
}

// ActiveWriters reports the current number of outstanding writer guards.
func (b *Budget) ActiveWriters() int {
	return int(b.activeWriters.Load())
}

// MaxConcurrentWriters reports the configured cap.
func (b *Budget) MaxConcurrentWriters() int {
	return int(b.maxWriters)
}

// ValidateDocumentSize rejects documents larger than the configured cap.
func (b *Budget) ValidateDocumentSize(sizeBytes int64) error {
	if sizeBytes > b.maxDocBytes {
		return errs.New("memorybudget.ValidateDocumentSize", errs.KindInvalidRequest, nil)
	}
	return nil
}

// ValidateBufferSize rejects a requested buffer allocation larger than the
// configured cap.
func (b *Budget) ValidateBufferSize(requestedBytes int64) error {
	if requestedBytes > b.maxBufferBytes {
		return errs.New("memorybudget.ValidateBufferSize", errs.KindInvalidRequest, nil)
	}
	return nil
}

// ResetForTest clears the active writer count. Test-only; production code
// never needs to force the counter back to zero.
func (b *Budget) ResetForTest() {
	b.activeWriters.Store(0)
}
