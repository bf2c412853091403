package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/opencivics/dispatch"
	"github.com/opencivics/dispatch/internal/domain"
	"github.com/opencivics/dispatch/internal/infra/database/models"
	"github.com/opencivics/dispatch/internal/usecase"
)

const descOrder = `events."when" DESC, events.source_kind DESC, events.source_id DESC, events.seq DESC`
const ascOrder = `events."when" ASC, events.source_kind ASC, events.source_id ASC, events.seq ASC`

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// eventJoin is the scan target for event queries joined with feed names.
type eventJoin struct {
	ID         int64
	Feed       string
	SourceKind string
	SourceID   string
	EventID    string
	When       time.Time
	Seq        int
}

func (e eventJoin) toDomain() domain.EventRow {
	return domain.EventRow{
		ID:      e.ID,
		Feed:    e.Feed,
		Source:  dispatch.SourceRef{Kind: e.SourceKind, ID: e.SourceID},
		EventID: e.EventID,
		When:    e.When,
		Seq:     e.Seq,
	}
}

func (r *EventRepository) joined(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Event{}).
		Joins("JOIN feeds ON feeds.id = events.feed_id").
		Select(`events.id, feeds.name AS feed, events.source_kind, events.source_id, events.event_id, events."when", events.seq`)
}

// Reconcile snapshots the source's stored rows, diffs them against the
// asserted set, and applies the difference in one transaction. Rows not
// re-asserted are deleted; surviving rows keep their surrogate ids so
// cursors referencing them remain valid.
//
// Concurrent reconciliation of the same source is a caller error: the diff
// is computed against a snapshot and two interleaved updates can interleave
// arbitrarily. Different sources never contend.
func (r *EventRepository) Reconcile(ctx context.Context, src dispatch.SourceRef, assertions []domain.Assertion) ([]int64, error) {
	var deleted []int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := snapshotEvents(tx, src)
		if err != nil {
			return err
		}

		plan, err := computeReconcilePlan(existing, assertions)
		if err != nil {
			return err
		}

		feedIDs := make(map[string]int64)
		for _, ins := range plan.inserts {
			feedID, err := getOrCreateFeed(tx, feedIDs, ins.Feed)
			if err != nil {
				return err
			}
			row := models.Event{
				FeedID:     feedID,
				SourceKind: src.Kind,
				SourceID:   src.ID,
				EventID:    ins.EventID,
				When:       ins.When,
				Seq:        ins.Seq,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		for _, upd := range plan.updates {
			err := tx.Model(&models.Event{}).
				Where("id = ?", upd.rowID).
				Update("when", upd.when).Error
			if err != nil {
				return err
			}
		}
		if len(plan.deletes) > 0 {
			if err := tx.Delete(&models.Event{}, "id IN ?", plan.deletes).Error; err != nil {
				return err
			}
		}

		deleted = plan.deletes
		return nil
	})
	if err != nil {
		return nil, domain.ReconciliationError{Source: src.String(), Err: err}
	}
	return deleted, nil
}

// snapshotEvents is the begin phase of reconciliation: every row currently
// stored for the source, with its feed name resolved.
func snapshotEvents(tx *gorm.DB, src dispatch.SourceRef) ([]domain.EventRow, error) {
	var joins []eventJoin
	err := tx.Model(&models.Event{}).
		Joins("JOIN feeds ON feeds.id = events.feed_id").
		Select(`events.id, feeds.name AS feed, events.source_kind, events.source_id, events.event_id, events."when", events.seq`).
		Where("events.source_kind = ? AND events.source_id = ?", src.Kind, src.ID).
		Scan(&joins).Error
	if err != nil {
		return nil, err
	}
	rows := make([]domain.EventRow, 0, len(joins))
	for _, j := range joins {
		rows = append(rows, j.toDomain())
	}
	return rows, nil
}

func getOrCreateFeed(tx *gorm.DB, cache map[string]int64, name string) (int64, error) {
	if id, ok := cache[name]; ok {
		return id, nil
	}
	var feed models.Feed
	err := tx.Where("name = ?", name).Take(&feed).Error
	if err == gorm.ErrRecordNotFound {
		feed = models.Feed{Name: name}
		err = tx.Create(&feed).Error
	}
	if err != nil {
		return 0, err
	}
	cache[name] = feed.ID
	return feed.ID, nil
}

func (r *EventRepository) ScanRecent(ctx context.Context, offset, limit int) ([]domain.EventRow, error) {
	var joins []eventJoin
	err := r.joined(ctx).
		Order(descOrder).
		Offset(offset).
		Limit(limit).
		Scan(&joins).Error
	if err != nil {
		return nil, err
	}
	return toDomainRows(joins), nil
}

func (r *EventRepository) RecentByFeed(ctx context.Context, feed string, limit int) ([]domain.EventRow, error) {
	var joins []eventJoin
	err := r.joined(ctx).
		Where("feeds.name = ?", feed).
		Order(descOrder).
		Limit(limit).
		Scan(&joins).Error
	if err != nil {
		return nil, err
	}
	return toDomainRows(joins), nil
}

func (r *EventRepository) ScanSince(ctx context.Context, feeds []string, afterID int64, since time.Time) ([]domain.EventRow, error) {
	if len(feeds) == 0 {
		return nil, nil
	}
	var joins []eventJoin
	err := r.joined(ctx).
		Where("events.id > ?", afterID).
		Where(`events."when" >= ?`, since).
		Where("feeds.name IN ?", feeds).
		Order(ascOrder).
		Scan(&joins).Error
	if err != nil {
		return nil, err
	}
	return toDomainRows(joins), nil
}

// ResolveCursor maps a cursor row id to the maximum row id sharing that
// row's logical identity. A sibling row indexed after the cursor was taken
// would otherwise be re-delivered. Assumes sibling rows of a logical event
// always carry one seq value; the schema does not enforce that, so two
// reconciliations assigning different seq to the same event id would skew
// the scan ordering.
func (r *EventRepository) ResolveCursor(ctx context.Context, rowID int64) (int64, error) {
	var row models.Event
	err := r.db.WithContext(ctx).Take(&row, rowID).Error
	if err == gorm.ErrRecordNotFound {
		return rowID, nil
	}
	if err != nil {
		return 0, err
	}

	var maxID int64
	err = r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("source_kind = ? AND source_id = ? AND event_id = ?", row.SourceKind, row.SourceID, row.EventID).
		Select("MAX(id)").
		Scan(&maxID).Error
	if err != nil {
		return 0, err
	}
	if maxID < rowID {
		maxID = rowID
	}
	return maxID, nil
}

func toDomainRows(joins []eventJoin) []domain.EventRow {
	rows := make([]domain.EventRow, 0, len(joins))
	for _, j := range joins {
		rows = append(rows, j.toDomain())
	}
	return rows
}

var _ usecase.EventRepository = (*EventRepository)(nil)
