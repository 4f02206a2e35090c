package match

import (
	"fmt"
	"sync"
)

// Conflict describes an update that tried to rebind an identifier that is
// already bound to a different counterpart.
type Conflict struct {
	SequenceID    int64
	CorrelationID string
	// Exactly one of these holds the previously recorded counterpart.
	BoundCorrelation string
	BoundSequence    int64
}

func (c *Conflict) Error() string {
	if c.BoundCorrelation != "" {
		return fmt.Sprintf("sequence id %d is bound to %q, update carries %q",
			c.SequenceID, c.BoundCorrelation, c.CorrelationID)
	}
	return fmt.Sprintf("correlation id %q is bound to sequence id %d, update carries %d",
		c.CorrelationID, c.BoundSequence, c.SequenceID)
}

// IdentityBook remembers which sequence id belongs to which correlation id
// for the lifetime of the process. Bindings are never replaced; a
// conflicting update is reported and left as it arrived. Reset clears every
// binding.
type IdentityBook struct {
	mu     sync.Mutex
	bySeq  map[int64]string
	byCorr map[string]int64
}

// NewIdentityBook creates an empty book.
func NewIdentityBook() *IdentityBook {
	return &IdentityBook{
		bySeq:  make(map[int64]string),
		byCorr: make(map[string]int64),
	}
}

// Observe records the bindings carried by u and returns u with any missing
// counterpart filled in from earlier observations. A non-nil Conflict means
// u disagrees with a recorded binding; u is then returned unchanged.
func (b *IdentityBook) Observe(u Update) (Update, *Conflict) {
	corr, hasCorr := u.CorrelationID.Get()
	seq, hasSeq := u.SequenceID.Get()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case hasCorr && hasSeq:
		if bound, ok := b.bySeq[seq]; ok && bound != corr {
			return u, &Conflict{SequenceID: seq, CorrelationID: corr, BoundCorrelation: bound}
		}
		if bound, ok := b.byCorr[corr]; ok && bound != seq {
			return u, &Conflict{SequenceID: seq, CorrelationID: corr, BoundSequence: bound}
		}
		b.bySeq[seq] = corr
		b.byCorr[corr] = seq
		return u, nil

	case hasCorr:
		if bound, ok := b.byCorr[corr]; ok {
			return u.withIdentity(u.CorrelationID, Some(bound)), nil
		}

	case hasSeq:
		if bound, ok := b.bySeq[seq]; ok {
			return u.withIdentity(Some(bound), u.SequenceID), nil
		}
	}
	return u, nil
}

// lookup returns the correlation id bound to a sequence id.
func (b *IdentityBook) lookup(seq int64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	corr, ok := b.bySeq[seq]
	return corr, ok
}

// Len returns the number of recorded bindings.
func (b *IdentityBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bySeq)
}

// Reset forgets every binding.
func (b *IdentityBook) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bySeq = make(map[int64]string)
	b.byCorr = make(map[string]int64)
}
