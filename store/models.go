package store

import "time"

// Item lifecycle states.
const (
	ItemStatusActive    = "active"
	ItemStatusConsumed  = "consumed"
	ItemStatusExpired   = "expired"
	ItemStatusDiscarded = "discarded"
)

// Lifecycle event types.
const (
	EventAdd     = "add"
	EventConsume = "consume"
	EventExpire  = "expire"
	EventDiscard = "discard"
)

// StatusForEvent maps a terminal event type to the item status it implies.
func StatusForEvent(eventType string) (string, bool) {
	switch eventType {
	case EventConsume:
		return ItemStatusConsumed, true
	case EventExpire:
		return ItemStatusExpired, true
	case EventDiscard:
		return ItemStatusDiscarded, true
	default:
		return "", false
	}
}

// Item is a tracked inventory item. Rows leave "active" status once a
// terminal event is recorded; completed lifecycles survive only as events and
// pattern aggregates.
type Item struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	UserID     string     `gorm:"index" json:"user_id"`
	Name       string     `json:"name"`
	Category   string     `json:"category"`
	ExpiryDate *time.Time `json:"expiry_date"`
	Status     string     `gorm:"index" json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ConsumptionPattern is the per-user-per-item aggregate: how often and how
// quickly an item is used up. One logical row per (user, item name), upserted
// on every consume event by the event processor. The analytics layer only
// reads it.
type ConsumptionPattern struct {
	ID                     uint       `gorm:"primaryKey" json:"-"`
	UserID                 string     `gorm:"index:idx_pattern_user_item,unique" json:"user_id"`
	ItemName               string     `gorm:"index:idx_pattern_user_item,unique" json:"item_name"`
	Category               string     `json:"category"`
	AverageConsumptionDays *float64   `json:"average_consumption_days"`
	ConsumptionCount       int        `json:"consumption_count"`
	LastConsumed           *time.Time `json:"last_consumed"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// ItemEvent is an append-only lifecycle fact. Immutable once written; the
// sole durable record of completed lifecycles.
type ItemEvent struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"index" json:"user_id"`
	ItemID    string    `gorm:"index" json:"item_id"`
	ItemName  string    `json:"item_name"`
	Category  string    `json:"category"`
	EventType string    `json:"event_type"`
	EventDate time.Time `gorm:"index" json:"event_date"`
}
