package circle

import (
	"fmt"
	"sort"
	"time"
)

// Batch is a cohort of members admitted as voters together, sharing one
// grace-period deadline. Its id is the id of the proposal that admitted
// them.
type Batch struct {
	ID uint64
	// GraceEndsAt is when the batch finalizes regardless of who has paid.
	GraceEndsAt time.Time
	// WaitingEscrow counts members that still must pay in before the batch
	// can finalize early.
	WaitingEscrow int
	// Promoted is set once the batch has finalized. Stragglers that pay
	// after this point are promoted individually.
	Promoted bool
	// Members lists the unresolved members of the batch. Members drop out
	// of the list when they reach Voting or leave; an emptied batch is
	// deleted.
	Members []string
}

// finalizable reports whether every member has paid or the grace period has
// elapsed.
func (b *Batch) finalizable(now time.Time) bool {
	return b.WaitingEscrow == 0 || !now.Before(b.GraceEndsAt)
}

func (b *Batch) removeMember(addr string) {
	for i, m := range b.Members {
		if m == addr {
			b.Members = append(b.Members[:i], b.Members[i+1:]...)
			return
		}
	}
}

func (b *Batch) clone() *Batch {
	c := *b
	c.Members = append([]string(nil), b.Members...)
	return &c
}

// batchTracker holds all live batches keyed by id.
type batchTracker struct {
	batches map[uint64]*Batch
}

func newBatchTracker() *batchTracker {
	return &batchTracker{batches: make(map[uint64]*Batch)}
}

func (t *batchTracker) create(id uint64, members []string, graceEndsAt time.Time) (*Batch, error) {
	if _, ok := t.batches[id]; ok {
		return nil, fmt.Errorf("batch %d already exists", id)
	}
	b := &Batch{
		ID:            id,
		GraceEndsAt:   graceEndsAt,
		WaitingEscrow: len(members),
		Members:       append([]string(nil), members...),
	}
	t.batches[id] = b
	return b, nil
}

func (t *batchTracker) get(id uint64) (*Batch, error) {
	b, ok := t.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: batch %d", ErrNotFound, id)
	}
	return b, nil
}

// markPaid records that one more member of the batch has paid in full.
func (t *batchTracker) markPaid(id uint64) error {
	b, err := t.get(id)
	if err != nil {
		return err
	}
	if b.WaitingEscrow > 0 {
		b.WaitingEscrow--
	}
	return nil
}

// unmarkPaid records that a previously paid member fell back below the
// requirement, for example after a slash.
func (t *batchTracker) unmarkPaid(id uint64) error {
	b, err := t.get(id)
	if err != nil {
		return err
	}
	b.WaitingEscrow++
	return nil
}

// detach removes a member from its batch without promotion, deleting the
// batch once it holds no unresolved members.
func (t *batchTracker) detach(id uint64, addr string, paid bool) {
	b, ok := t.batches[id]
	if !ok {
		return
	}
	if !paid && b.WaitingEscrow > 0 {
		b.WaitingEscrow--
	}
	b.removeMember(addr)
	if len(b.Members) == 0 {
		delete(t.batches, id)
	}
}

func (t *batchTracker) remove(id uint64) {
	delete(t.batches, id)
}

// ids returns all batch ids in ascending order for deterministic scans.
func (t *batchTracker) ids() []uint64 {
	ids := make([]uint64, 0, len(t.batches))
	for id := range t.batches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *batchTracker) clone() *batchTracker {
	c := newBatchTracker()
	for id, b := range t.batches {
		c.batches[id] = b.clone()
	}
	return c
}
