package conn

import "sync"

// DefaultMaxLinks is the default maximum number of simultaneous links.
const DefaultMaxLinks = 16

// Table holds the contexts of all established links, keyed by connection
// handle. It is owned by the link lifecycle manager.
type Table struct {
	contexts map[uint16]*Context
	maxLinks int

	mu sync.RWMutex
}

// NewTable creates a context table.
// maxLinks limits concurrent links (0 uses DefaultMaxLinks).
func NewTable(maxLinks int) *Table {
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}
	return &Table{
		contexts: make(map[uint16]*Context),
		maxLinks: maxLinks,
	}
}

// Add registers a context for a newly established link.
func (t *Table) Add(ctx *Context) error {
	if ctx == nil {
		return ErrInvalidHandle
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.contexts[ctx.Handle()]; exists {
		return ErrDuplicateHandle
	}
	if len(t.contexts) >= t.maxLinks {
		return ErrTableFull
	}

	t.contexts[ctx.Handle()] = ctx
	return nil
}

// Remove destroys the context of a disconnected link and returns it.
// Returns nil if the handle is unknown.
func (t *Table) Remove(handle uint16) *Context {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx := t.contexts[handle]
	delete(t.contexts, handle)
	return ctx
}

// Find looks up a context by handle.
func (t *Table) Find(handle uint16) (*Context, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ctx, ok := t.contexts[handle]
	if !ok {
		return nil, ErrContextNotFound
	}
	return ctx, nil
}

// Count returns the number of tracked links.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.contexts)
}

// MaxLinks returns the table capacity.
func (t *Table) MaxLinks() int {
	return t.maxLinks
}

// ForEach calls fn for each context until fn returns false.
// The callback must not modify the table.
func (t *Table) ForEach(fn func(*Context) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, ctx := range t.contexts {
		if !fn(ctx) {
			return
		}
	}
}
