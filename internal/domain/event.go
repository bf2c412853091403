package domain

import (
	"time"

	"github.com/opencivics/dispatch"
)

// MaxEventIDLen bounds the producer-local event id.
const MaxEventIDLen = 32

// Assertion is one event a source currently claims to have, fanned into one
// or more feeds. Reconciliation brings the stored rows for the source in
// line with the asserted set.
type Assertion struct {
	EventID string    `json:"eventID"`
	When    time.Time `json:"when"`
	Feeds   []string  `json:"feeds"`
}

// EventRow is one stored (source, event-id, feed) row. The same logical
// event occupies one row per feed it was fanned into; those rows share When
// and Seq but have distinct surrogate IDs.
type EventRow struct {
	ID      int64
	Feed    string
	Source  dispatch.SourceRef
	EventID string
	When    time.Time
	Seq     int
}

// Logical returns the identity shared by this row and its per-feed siblings.
func (r EventRow) Logical() dispatch.LogicalID {
	return dispatch.LogicalID{Source: r.Source, EventID: r.EventID}
}

// Item is one deduplicated query result: a logical event together with the
// set of requested feeds it matched. RowID is the largest surrogate row id
// observed for the logical event, which is what subscription cursors track.
type Item struct {
	RowID   int64              `json:"rowID"`
	Source  dispatch.SourceRef `json:"source"`
	EventID string             `json:"eventID"`
	When    time.Time          `json:"when"`
	Seq     int                `json:"seq"`
	Feeds   []string           `json:"feeds"`
}

// Logical returns the identity shared by this item's per-feed rows.
func (i Item) Logical() dispatch.LogicalID {
	return dispatch.LogicalID{Source: i.Source, EventID: i.EventID}
}
