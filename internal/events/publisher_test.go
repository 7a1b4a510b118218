package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/catalog-sync/internal/database"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		kind models.ChangeKind
		want EventType
		ok   bool
	}{
		{models.ChangeNew, EventTypeProductAdded, true},
		{models.ChangeRemoved, EventTypeProductRemoved, true},
		{models.ChangePriceChanged, EventTypePriceChanged, true},
		{models.ChangeKind("renamed"), "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, ok := TypeOf(tt.kind)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPublisher_PublishChangesWithTx(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("one event per change", func(t *testing.T) {
		outbox := new(MockOutbox)
		publisher := NewPublisher(outbox, "", nil)

		var inserted []*database.OutboxEvent
		outbox.On("InsertWithTx", ctx, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				inserted = append(inserted, args.Get(2).(*database.OutboxEvent))
			}).
			Return(nil)

		err := publisher.PublishChangesWithTx(ctx, nil, "run-7", []models.Change{
			{Timestamp: ts, Kind: models.ChangeNew, Name: "A", Detail: "new product", NewValue: "15000"},
			{Timestamp: ts, Kind: models.ChangePriceChanged, Name: "B", Detail: "price changed", OldValue: "10000", NewValue: "12000"},
		})
		require.NoError(t, err)
		require.Len(t, inserted, 2)

		assert.Equal(t, "product", inserted[0].AggregateType)
		assert.Equal(t, "A", inserted[0].AggregateID)
		assert.Equal(t, string(EventTypeProductAdded), inserted[0].EventType)
		assert.Equal(t, database.DefaultTargetStream, inserted[0].TargetStream)

		var payload ChangePayload
		require.NoError(t, json.Unmarshal(inserted[1].Payload, &payload))
		assert.Equal(t, "CATALOG_PRICE_CHANGED", payload.EventType)
		assert.Equal(t, "run-7", payload.RunID)
		assert.Equal(t, "price_changed", payload.Kind)
		assert.Equal(t, "10000", payload.OldValue)
		assert.Equal(t, "12000", payload.NewValue)
		assert.Equal(t, "catalog-sync", payload.Source)
		assert.NotEmpty(t, payload.EventID)
		assert.True(t, ts.Equal(payload.Timestamp))
	})

	t.Run("custom stream", func(t *testing.T) {
		outbox := new(MockOutbox)
		publisher := NewPublisher(outbox, "stream:test", nil)

		outbox.On("InsertWithTx", ctx, mock.Anything, mock.MatchedBy(func(e *database.OutboxEvent) bool {
			return e.TargetStream == "stream:test"
		})).Return(nil).Once()

		err := publisher.PublishChangesWithTx(ctx, nil, "run-1", []models.Change{
			{Timestamp: ts, Kind: models.ChangeRemoved, Name: "C", OldValue: "1000", NewValue: "-"},
		})
		require.NoError(t, err)
		outbox.AssertExpectations(t)
	})

	t.Run("insert failure aborts", func(t *testing.T) {
		outbox := new(MockOutbox)
		publisher := NewPublisher(outbox, "", nil)

		outbox.On("InsertWithTx", ctx, mock.Anything, mock.Anything).Return(errors.New("tx closed")).Once()

		err := publisher.PublishChangesWithTx(ctx, nil, "run-1", []models.Change{
			{Timestamp: ts, Kind: models.ChangeNew, Name: "A"},
			{Timestamp: ts, Kind: models.ChangeNew, Name: "B"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"A"`)
		outbox.AssertNumberOfCalls(t, "InsertWithTx", 1)
	})

	t.Run("unknown kind", func(t *testing.T) {
		publisher := NewPublisher(new(MockOutbox), "", nil)

		err := publisher.PublishChangesWithTx(ctx, nil, "run-1", []models.Change{
			{Timestamp: ts, Kind: models.ChangeKind("renamed"), Name: "A"},
		})
		assert.Error(t, err)
	})
}
