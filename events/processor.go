// Package events records item lifecycle events and maintains the per-user
// consumption-pattern aggregates. It is the only writer of pattern rows; the
// analytics layer reads them.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shad0409/myexpirekits-backend/store"
)

const hoursPerDay = 24

// Validator checks incoming lifecycle events before they are persisted.
type Validator struct {
	futureThreshold time.Duration
}

// NewValidator creates a validator allowing timestamps up to one hour ahead.
func NewValidator() *Validator {
	return &Validator{futureThreshold: time.Hour}
}

// Validate rejects malformed events.
func (v *Validator) Validate(ev store.ItemEvent) error {
	if ev.UserID == "" {
		return fmt.Errorf("event missing user id")
	}
	if ev.ItemID == "" {
		return fmt.Errorf("event missing item id")
	}
	switch ev.EventType {
	case store.EventAdd, store.EventConsume, store.EventExpire, store.EventDiscard:
	default:
		return fmt.Errorf("unknown event type %q", ev.EventType)
	}
	if !ev.EventDate.IsZero() && ev.EventDate.After(time.Now().Add(v.futureThreshold)) {
		return fmt.Errorf("event date too far in future")
	}
	return nil
}

// Processor validates and applies lifecycle events: appends the immutable
// event row, transitions the item's status on terminal events, and upserts
// the consumption pattern on consume events.
type Processor struct {
	store     *store.Store
	validator *Validator
	log       *logrus.Logger
}

// NewProcessor creates an event processor.
func NewProcessor(st *store.Store, log *logrus.Logger) *Processor {
	return &Processor{store: st, validator: NewValidator(), log: log}
}

// ItemAdded records the add event for a newly created item.
func (p *Processor) ItemAdded(ctx context.Context, item *store.Item) error {
	ev := store.ItemEvent{
		UserID:    item.UserID,
		ItemID:    item.ID,
		ItemName:  item.Name,
		Category:  item.Category,
		EventType: store.EventAdd,
		EventDate: item.CreatedAt,
	}
	return p.Record(ctx, ev)
}

// Record applies a single lifecycle event.
func (p *Processor) Record(ctx context.Context, ev store.ItemEvent) error {
	if err := p.validator.Validate(ev); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if ev.EventDate.IsZero() {
		ev.EventDate = time.Now()
	}

	// Snapshot name/category from the item when the caller omitted them, so
	// the event remains meaningful after the item row is gone.
	if ev.ItemName == "" || ev.Category == "" {
		if item, err := p.store.ItemByID(ctx, ev.UserID, ev.ItemID); err == nil {
			if ev.ItemName == "" {
				ev.ItemName = item.Name
			}
			if ev.Category == "" {
				ev.Category = item.Category
			}
		}
	}

	if err := p.store.AppendEvent(ctx, &ev); err != nil {
		return err
	}

	if status, terminal := store.StatusForEvent(ev.EventType); terminal {
		if err := p.store.UpdateItemStatus(ctx, ev.UserID, ev.ItemID, status); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	if ev.EventType == store.EventConsume {
		if err := p.updatePattern(ctx, ev); err != nil {
			return err
		}
	}

	p.log.WithFields(logrus.Fields{
		"user_id":    ev.UserID,
		"item_id":    ev.ItemID,
		"event_type": ev.EventType,
	}).Debug("lifecycle event recorded")
	return nil
}

// updatePattern upserts the (user, item name) aggregate: the count increments
// monotonically and the average cycle length is recomputed from the running
// mean of observed inter-consumption deltas.
func (p *Processor) updatePattern(ctx context.Context, ev store.ItemEvent) error {
	pattern, err := p.store.PatternByName(ctx, ev.UserID, ev.ItemName)
	if errors.Is(err, store.ErrNotFound) {
		consumed := ev.EventDate
		pattern = &store.ConsumptionPattern{
			UserID:           ev.UserID,
			ItemName:         ev.ItemName,
			Category:         ev.Category,
			ConsumptionCount: 1,
			LastConsumed:     &consumed,
		}
		return p.store.SavePattern(ctx, pattern)
	}
	if err != nil {
		return err
	}

	if pattern.LastConsumed != nil {
		delta := ev.EventDate.Sub(*pattern.LastConsumed).Hours() / hoursPerDay
		if delta < 0 {
			delta = 0
		}
		if pattern.AverageConsumptionDays == nil {
			pattern.AverageConsumptionDays = &delta
		} else {
			// Running mean over the consumptionCount observed deltas.
			n := float64(pattern.ConsumptionCount)
			avg := (*pattern.AverageConsumptionDays*(n-1) + delta) / n
			pattern.AverageConsumptionDays = &avg
		}
	}

	pattern.ConsumptionCount++
	consumed := ev.EventDate
	pattern.LastConsumed = &consumed
	if pattern.Category == "" {
		pattern.Category = ev.Category
	}
	return p.store.SavePattern(ctx, pattern)
}
