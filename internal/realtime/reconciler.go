package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

const defaultSeenCapacity = 4096

// Record is the reconciled view of one prescription.
type Record struct {
	ID         uuid.UUID
	Status     enums.PrescriptionStatus
	RiderID    *uuid.UUID
	OwnerID    uuid.UUID
	OccurredAt time.Time
}

// Reconciler applies change events to a keyed view. Applying an event twice,
// or an event older than the one already applied for the same record, leaves
// the view as it was.
type Reconciler struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
	seen    map[string]struct{}
	order   []string
	next    int
}

func NewReconciler(capacity int) *Reconciler {
	if capacity <= 0 {
		capacity = defaultSeenCapacity
	}
	return &Reconciler{
		records: make(map[uuid.UUID]Record),
		seen:    make(map[string]struct{}, capacity),
		order:   make([]string, capacity),
	}
}

// Apply reports whether evt changed the view.
func (r *Reconciler) Apply(evt Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if evt.ID != "" {
		if _, dup := r.seen[evt.ID]; dup {
			return false
		}
		r.remember(evt.ID)
	}

	current, ok := r.records[evt.RecordID]
	if ok && evt.OccurredAt.Before(current.OccurredAt) {
		return false
	}
	next := Record{
		ID:         evt.RecordID,
		Status:     evt.Status,
		RiderID:    evt.RiderID,
		OwnerID:    evt.OwnerID,
		OccurredAt: evt.OccurredAt,
	}
	changed := !ok || !sameRecord(current, next)
	r.records[evt.RecordID] = next
	return changed
}

// Get returns the reconciled record.
func (r *Reconciler) Get(id uuid.UUID) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Len returns the number of records in the view.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// remember keeps a bounded ring of seen event ids.
func (r *Reconciler) remember(id string) {
	if old := r.order[r.next]; old != "" {
		delete(r.seen, old)
	}
	r.order[r.next] = id
	r.seen[id] = struct{}{}
	r.next = (r.next + 1) % len(r.order)
}

func sameRecord(a, b Record) bool {
	if a.Status != b.Status || a.OwnerID != b.OwnerID {
		return false
	}
	switch {
	case a.RiderID == nil && b.RiderID == nil:
		return true
	case a.RiderID == nil || b.RiderID == nil:
		return false
	default:
		return *a.RiderID == *b.RiderID
	}
}

// Forget drops a record from the view and reports whether it was present.
func (r *Reconciler) Forget(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	return true
}
