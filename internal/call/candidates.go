package call

import "github.com/petervdpas/klink/internal/media"

// PendingCandidates buffers remote ICE candidates that arrive before the
// remote description is applied. Candidates are held in arrival order and
// flushed exactly once; after the flush, new candidates go straight to the
// engine and Push refuses further buffering.
//
// Not safe for concurrent use: only the coordinator loop touches it.
type PendingCandidates struct {
	items   []media.Candidate
	flushed bool
}

func NewPendingCandidates() *PendingCandidates {
	return &PendingCandidates{}
}

// Push buffers one candidate. Returns false once the queue has been flushed
// or discarded — the caller should then apply the candidate directly.
func (q *PendingCandidates) Push(c media.Candidate) bool {
	if q.flushed {
		return false
	}
	q.items = append(q.items, c)
	return true
}

// Flush applies all buffered candidates in arrival order and marks the queue
// flushed. apply is called for every candidate even if an earlier one fails;
// a bad candidate must not starve the rest. Subsequent calls are no-ops.
func (q *PendingCandidates) Flush(apply func(media.Candidate) error) []error {
	if q.flushed {
		return nil
	}
	q.flushed = true

	var errs []error
	for _, c := range q.items {
		if err := apply(c); err != nil {
			errs = append(errs, err)
		}
	}
	q.items = nil
	return errs
}

// Discard drops anything buffered and blocks future pushes. Used at teardown.
func (q *PendingCandidates) Discard() {
	q.flushed = true
	q.items = nil
}

// Len reports how many candidates are waiting.
func (q *PendingCandidates) Len() int {
	return len(q.items)
}
