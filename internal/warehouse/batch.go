package warehouse

import "time"

// Batch accumulates module output for a process-stage commit group, mirroring
// the reference implementation's WarehouseData: a set of facts plus a
// should_commit decision based on age, force, and size.
type Batch struct {
	savedAt   time.Time
	Transfers map[string]Transfer
	Amounts   map[string]Amount
	Links     map[string]Link
}

// NewBatch returns an empty batch, timestamped now.
func NewBatch() *Batch {
	return &Batch{
		savedAt:   time.Now(),
		Transfers: make(map[string]Transfer),
		Amounts:   make(map[string]Amount),
		Links:     make(map[string]Link),
	}
}

func (b *Batch) AddTransfer(t Transfer) { b.Transfers[t.DedupKey()] = t }
func (b *Batch) AddAmount(a Amount)     { b.Amounts[a.DedupKey()] = a }
func (b *Batch) AddLink(l Link) {
	b.Links[linkKey(l.NetworkID, l.FromAddress, l.ToAddress)] = l
}

func linkKey(networkID int64, from, to string) string {
	return fmtKey(networkID, from, to)
}

// Len returns the total number of buffered rows across all three tables.
func (b *Batch) Len() int { return len(b.Transfers) + len(b.Amounts) + len(b.Links) }

// IsEmpty reports whether the batch has no buffered rows.
func (b *Batch) IsEmpty() bool { return b.Len() == 0 }

// ShouldCommit implements the three-term commit decision from spec.md §4.4:
// force-and-nonempty, OR older than 10s and nonempty, OR bigger than 50000
// rows and older than 1s.
func (b *Batch) ShouldCommit(force bool) bool {
	const minAge = time.Second
	const maxAge = 10 * time.Second
	const maxLen = 50_000

	manuallyRequired := force && !b.IsEmpty()
	lengthyBreak := time.Since(b.savedAt) > maxAge && !b.IsEmpty()
	bufferIsFull := time.Since(b.savedAt) > minAge && b.Len() > maxLen

	return manuallyRequired || lengthyBreak || bufferIsFull
}

// Merge folds other's rows into b, mirroring AddAssign on WarehouseData.
func (b *Batch) Merge(other *Batch) {
	for k, v := range other.Transfers {
		b.Transfers[k] = v
	}
	for k, v := range other.Amounts {
		b.Amounts[k] = v
	}
	for k, v := range other.Links {
		b.Links[k] = v
	}
}

// Clear empties the batch and resets its age clock, mirroring commit()'s
// post-insert reset.
func (b *Batch) Clear() {
	b.savedAt = time.Now()
	b.Transfers = make(map[string]Transfer)
	b.Amounts = make(map[string]Amount)
	b.Links = make(map[string]Link)
}
