package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	st, err := Open(Config{Driver: "sqlite", DSN: dsn}, log)
	require.NoError(t, err)
	return st
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	log := logrus.New()
	_, err := Open(Config{Driver: "oracle"}, log)
	assert.Error(t, err)
}

func TestStore_CreateAndFetchItem(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item := &Item{UserID: "u1", Name: "Milk", Category: "Dairy"}
	require.NoError(t, st.CreateItem(ctx, item))
	assert.NotEmpty(t, item.ID, "IDs are assigned on insert")
	assert.Equal(t, ItemStatusActive, item.Status)

	got, err := st.ItemByID(ctx, "u1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Milk", got.Name)

	_, err = st.ItemByID(ctx, "someone-else", item.ID)
	assert.ErrorIs(t, err, ErrNotFound, "items are scoped to their owner")

	_, err = st.ItemByID(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ActiveItemsExcludesTerminal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	active := &Item{UserID: "u1", Name: "Milk", Category: "Dairy"}
	consumed := &Item{UserID: "u1", Name: "Bread", Category: "Bakery"}
	require.NoError(t, st.CreateItem(ctx, active))
	require.NoError(t, st.CreateItem(ctx, consumed))
	require.NoError(t, st.UpdateItemStatus(ctx, "u1", consumed.ID, ItemStatusConsumed))

	items, err := st.ActiveItems(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Milk", items[0].Name)
}

func TestStore_UpdateItemStatusMissing(t *testing.T) {
	st := newTestStore(t)
	err := st.UpdateItemStatus(context.Background(), "u1", "missing", ItemStatusExpired)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PatternUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	pattern := &ConsumptionPattern{UserID: "u1", ItemName: "Milk", Category: "Dairy", ConsumptionCount: 1}
	require.NoError(t, st.SavePattern(ctx, pattern))

	// Case-insensitive name lookup.
	got, err := st.PatternByName(ctx, "u1", "MILK")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConsumptionCount)

	got.ConsumptionCount = 2
	require.NoError(t, st.SavePattern(ctx, got))

	patterns, err := st.Patterns(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, patterns, 1, "save must update in place, not duplicate")
	assert.Equal(t, 2, patterns[0].ConsumptionCount)

	_, err = st.PatternByName(ctx, "u1", "Cheese")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AllPatternsSpansUsers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SavePattern(ctx, &ConsumptionPattern{UserID: "u1", ItemName: "Milk", ConsumptionCount: 1}))
	require.NoError(t, st.SavePattern(ctx, &ConsumptionPattern{UserID: "u2", ItemName: "Bread", ConsumptionCount: 3}))

	all, err := st.AllPatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_Events(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	events := []ItemEvent{
		{UserID: "u1", ItemID: "i1", EventType: EventAdd, EventDate: now.AddDate(0, 0, -40)},
		{UserID: "u1", ItemID: "i1", EventType: EventConsume, EventDate: now.AddDate(0, 0, -5)},
		{UserID: "u1", ItemID: "i2", EventType: EventConsume, EventDate: now.AddDate(0, 0, -1)},
		{UserID: "u2", ItemID: "i3", EventType: EventConsume, EventDate: now},
	}
	for i := range events {
		require.NoError(t, st.AppendEvent(ctx, &events[i]))
		assert.NotEmpty(t, events[i].ID)
	}

	mine, err := st.EventsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, mine, 3)
	for i := 1; i < len(mine); i++ {
		assert.False(t, mine[i].EventDate.Before(mine[i-1].EventDate), "events come back in date order")
	}

	all, err := st.AllEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	recent, err := st.ConsumeEventsSince(ctx, "u1", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, recent, 2, "window excludes the 40-day-old add and other users")
	for _, ev := range recent {
		assert.Equal(t, EventConsume, ev.EventType)
	}
}

func TestStatusForEvent(t *testing.T) {
	cases := map[string]struct {
		status   string
		terminal bool
	}{
		EventConsume: {ItemStatusConsumed, true},
		EventExpire:  {ItemStatusExpired, true},
		EventDiscard: {ItemStatusDiscarded, true},
		EventAdd:     {"", false},
		"unknown":    {"", false},
	}
	for eventType, want := range cases {
		status, terminal := StatusForEvent(eventType)
		assert.Equal(t, want.status, status, eventType)
		assert.Equal(t, want.terminal, terminal, eventType)
	}
}
