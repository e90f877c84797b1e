// Package store provides the relational persistence layer backing the
// inventory and analytics services.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Config selects the database backend.
type Config struct {
	Driver string `json:"driver"` // "sqlite" or "postgres"
	DSN    string `json:"dsn"`
}

// Store wraps the relational database.
type Store struct {
	db  *gorm.DB
	log *logrus.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, log *logrus.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&Item{}, &ConsumptionPattern{}, &ItemEvent{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	log.WithField("driver", cfg.Driver).Info("database connected")
	return &Store{db: db, log: log}, nil
}

// CreateItem inserts a new active item, assigning an ID if absent.
func (s *Store) CreateItem(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = ItemStatusActive
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	return nil
}

// ItemByID fetches one of the user's items.
func (s *Store) ItemByID(ctx context.Context, userID, itemID string) (*Item, error) {
	var item Item
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, itemID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", itemID, err)
	}
	return &item, nil
}

// ActiveItems lists the user's items still in inventory.
func (s *Store) ActiveItems(ctx context.Context, userID string) ([]Item, error) {
	var items []Item
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, ItemStatusActive).
		Order("created_at").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("load active items: %w", err)
	}
	return items, nil
}

// UpdateItemStatus moves an item out of (or back into) the live inventory.
func (s *Store) UpdateItemStatus(ctx context.Context, userID, itemID, status string) error {
	res := s.db.WithContext(ctx).Model(&Item{}).
		Where("user_id = ? AND id = ?", userID, itemID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update item status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Patterns lists the user's consumption patterns.
func (s *Store) Patterns(ctx context.Context, userID string) ([]ConsumptionPattern, error) {
	var patterns []ConsumptionPattern
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("item_name").
		Find(&patterns).Error
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	return patterns, nil
}

// AllPatterns lists every consumption pattern across users, for training.
func (s *Store) AllPatterns(ctx context.Context) ([]ConsumptionPattern, error) {
	var patterns []ConsumptionPattern
	if err := s.db.WithContext(ctx).Order("user_id, item_name").Find(&patterns).Error; err != nil {
		return nil, fmt.Errorf("load all patterns: %w", err)
	}
	return patterns, nil
}

// PatternByName fetches a user's pattern by case-insensitive item name.
func (s *Store) PatternByName(ctx context.Context, userID, itemName string) (*ConsumptionPattern, error) {
	var pattern ConsumptionPattern
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(item_name) = LOWER(?)", userID, itemName).
		First(&pattern).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pattern %q: %w", itemName, err)
	}
	return &pattern, nil
}

// SavePattern inserts or updates a pattern row.
func (s *Store) SavePattern(ctx context.Context, pattern *ConsumptionPattern) error {
	if err := s.db.WithContext(ctx).Save(pattern).Error; err != nil {
		return fmt.Errorf("save pattern: %w", err)
	}
	return nil
}

// AppendEvent writes an immutable lifecycle event.
func (s *Store) AppendEvent(ctx context.Context, ev *ItemEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.EventDate.IsZero() {
		ev.EventDate = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// EventsForUser lists all of a user's lifecycle events in date order.
func (s *Store) EventsForUser(ctx context.Context, userID string) ([]ItemEvent, error) {
	var events []ItemEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("event_date").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

// AllEvents lists every lifecycle event across users, for training.
func (s *Store) AllEvents(ctx context.Context) ([]ItemEvent, error) {
	var events []ItemEvent
	if err := s.db.WithContext(ctx).Order("event_date").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("load all events: %w", err)
	}
	return events, nil
}

// ConsumeEventsSince lists a user's consume events on or after the cutoff.
func (s *Store) ConsumeEventsSince(ctx context.Context, userID string, since time.Time) ([]ItemEvent, error) {
	var events []ItemEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND event_type = ? AND event_date >= ?", userID, EventConsume, since).
		Order("event_date").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("load consume events: %w", err)
	}
	return events, nil
}
