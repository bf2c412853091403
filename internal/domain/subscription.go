package domain

import "time"

// Frequency selects how often a subscription list is delivered.
type Frequency int

const (
	FreqNone Frequency = iota
	FreqDaily
	FreqWeekly
)

func (f Frequency) String() string {
	switch f {
	case FreqDaily:
		return "daily"
	case FreqWeekly:
		return "weekly"
	default:
		return "none"
	}
}

// BackfillWindow bounds how old an event may be and still appear in a
// digest, regardless of how long ago the list was last delivered.
func (f Frequency) BackfillWindow() time.Duration {
	switch f {
	case FreqWeekly:
		return 14 * 24 * time.Hour
	default:
		return 4 * 24 * time.Hour
	}
}

// SubscriptionList is one subscriber-intent: a set of tracked feeds, a
// delivery frequency, and the cursor of the last delivered event row.
// LastEventDelivered is a surrogate row id, not a logical event id, and is
// monotonically non-decreasing over the life of the list.
type SubscriptionList struct {
	ID           int64
	SubscriberID string
	Name         string
	IsDefault    bool
	Frequency    Frequency
	Trackers     []string

	LastEventDelivered *int64
	LastDeliveryTime   *time.Time
}

// Bounce records a hard delivery failure for a subscriber. Once recorded,
// future sends are suppressed.
type Bounce struct {
	SubscriberID    string
	Address         string
	Reason          string
	FirstBounceTime time.Time
	Count           int
}

// Subscriber is a delivery candidate with the lists it owns.
type Subscriber struct {
	ID      string
	Address string
	Lists   []SubscriptionList
}
