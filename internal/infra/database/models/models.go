package models

import (
	"time"
)

// Feed is the identity row for a feed name. The registry owns feed
// metadata; this table only maps names to the integer keys event rows carry,
// get-or-created lazily during reconciliation.
type Feed struct {
	ID   int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name string `json:"name" gorm:"type:text;uniqueIndex;not null"`
}

// Event is one (source, event-id, feed) row. A logical event stores one row
// per feed it was fanned into; sibling rows share When and Seq. The
// surrogate ID doubles as the monotonically increasing position that
// subscription cursors track.
type Event struct {
	ID     int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	FeedID int64 `json:"feedID" gorm:"uniqueIndex:events_source_feed,priority:4;index:events_feed_id,priority:1;not null"`
	Feed   Feed  `json:"-" gorm:"constraint:OnDelete:CASCADE;"`

	SourceKind string `json:"sourceKind" gorm:"type:text;uniqueIndex:events_source_feed,priority:1;index:events_order,priority:2;not null"`
	SourceID   string `json:"sourceID" gorm:"type:text;uniqueIndex:events_source_feed,priority:2;index:events_order,priority:3;not null"`
	EventID    string `json:"eventID" gorm:"type:varchar(32);uniqueIndex:events_source_feed,priority:3;not null"`

	When time.Time `json:"when" gorm:"type:timestamp with time zone;index:events_order,priority:1;not null"`
	Seq  int       `json:"seq" gorm:"index:events_order,priority:4;not null"`
}

// Subscriber is a delivery recipient.
type Subscriber struct {
	ID      string    `json:"id" gorm:"primaryKey;type:text"`
	Address string    `json:"address" gorm:"type:text;not null"`
	CDate   time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// SubscriptionList is one subscriber-intent. Frequency 0 means no email,
// 1 daily, 2 weekly. LastEventDelivered is an Event surrogate id and only
// ever moves forward.
type SubscriptionList struct {
	ID           int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	SubscriberID string     `json:"subscriberID" gorm:"type:text;index;uniqueIndex:lists_subscriber_name,priority:1;not null"`
	Subscriber   Subscriber `json:"-" gorm:"constraint:OnDelete:CASCADE;"`
	Name         string     `json:"name" gorm:"type:text;uniqueIndex:lists_subscriber_name,priority:2;not null"`
	IsDefault    bool       `json:"isDefault" gorm:"not null;default:false"`
	Frequency    int        `json:"frequency" gorm:"not null;default:0"`

	LastEventDelivered *int64     `json:"lastEventDelivered"`
	LastDeliveryTime   *time.Time `json:"lastDeliveryTime" gorm:"type:timestamp with time zone"`
}

// SubscriptionTracker joins a list to one tracked feed name.
type SubscriptionTracker struct {
	ListID int64            `json:"listID" gorm:"primaryKey;autoIncrement:false"`
	List   SubscriptionList `json:"-" gorm:"constraint:OnDelete:CASCADE;"`
	Feed   string           `json:"feed" gorm:"primaryKey;type:text"`
}

// BouncedAddress records a hard delivery failure; its presence suppresses
// future sends to the subscriber.
type BouncedAddress struct {
	SubscriberID    string    `json:"subscriberID" gorm:"primaryKey;type:text"`
	Address         string    `json:"address" gorm:"type:text;not null"`
	Reason          string    `json:"reason" gorm:"type:text"`
	FirstBounceTime time.Time `json:"firstBounceTime" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	Bounces         int       `json:"bounces" gorm:"not null;default:1"`
}
