package repository

import (
	"fmt"
	"time"

	"github.com/opencivics/dispatch/internal/domain"
)

// reconcilePlan is the commit phase of reconciliation computed as data:
// what to insert, which rows to re-date, and which stored rows were not
// re-asserted and must go.
type reconcilePlan struct {
	inserts []plannedInsert
	updates []plannedUpdate
	deletes []int64
}

type plannedInsert struct {
	Feed    string
	EventID string
	When    time.Time
	Seq     int
}

type plannedUpdate struct {
	rowID int64
	when  time.Time
}

type rowKey struct {
	eventID string
	feed    string
}

// computeReconcilePlan diffs the snapshot of stored rows against the
// asserted set. Seq is the insertion order of each distinct event id within
// this call: first occurrence claims the next integer, repeats reuse it.
// Calling with identical input against the resulting state yields an empty
// plan, which is what makes the operation idempotent.
func computeReconcilePlan(existing []domain.EventRow, assertions []domain.Assertion) (reconcilePlan, error) {
	var plan reconcilePlan

	byKey := make(map[rowKey]domain.EventRow, len(existing))
	leftover := make(map[int64]struct{}, len(existing))
	for _, row := range existing {
		byKey[rowKey{eventID: row.EventID, feed: row.Feed}] = row
		leftover[row.ID] = struct{}{}
	}

	seqs := make(map[string]int)
	nextSeq := 0
	for _, a := range assertions {
		if a.EventID == "" || len(a.EventID) > domain.MaxEventIDLen {
			return reconcilePlan{}, fmt.Errorf("event id %q must be 1..%d chars", a.EventID, domain.MaxEventIDLen)
		}
		seq, ok := seqs[a.EventID]
		if !ok {
			seq = nextSeq
			seqs[a.EventID] = seq
			nextSeq++
		}

		for _, feed := range a.Feeds {
			key := rowKey{eventID: a.EventID, feed: feed}
			row, exists := byKey[key]
			if !exists {
				plan.inserts = append(plan.inserts, plannedInsert{
					Feed:    feed,
					EventID: a.EventID,
					When:    a.When,
					Seq:     seq,
				})
				// Guard against the same (event, feed) pair being asserted
				// twice in one call.
				byKey[key] = domain.EventRow{EventID: a.EventID, Feed: feed, When: a.When, Seq: seq}
				continue
			}
			delete(leftover, row.ID)
			if row.ID != 0 && !row.When.Equal(a.When) {
				plan.updates = append(plan.updates, plannedUpdate{rowID: row.ID, when: a.When})
			}
		}
	}

	// Retraction: whatever the source no longer asserts gets deleted.
	for id := range leftover {
		plan.deletes = append(plan.deletes, id)
	}
	return plan, nil
}
