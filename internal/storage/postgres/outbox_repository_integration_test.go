package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := store.Outbox()

	require.NoError(t, store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
		if err := tx.EnqueueOutbox(domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   "order-1",
			EventType:     string(domain.EventOrderConfirmed),
			Payload:       []byte(`{"order_id":"order-1"}`),
		}); err != nil {
			return err
		}
		return tx.EnqueueOutbox(domain.OutboxMessage{
			ID:            "outbox-fixed-id",
			AggregateType: domain.AggregateDay,
			AggregateID:   "2026-10-19_delivery",
			EventType:     string(domain.EventDayOverride),
			Payload:       []byte(`{"date":"2026-10-19"}`),
		})
	}))

	pending, err := repo.PullPending(0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.NotEmpty(t, pending[0].ID)
	assert.Equal(t, "order-1", pending[0].AggregateID)
	assert.Equal(t, "outbox-fixed-id", pending[1].ID)

	stats, err := repo.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount)
	assert.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(pending[0].ID))
	require.NoError(t, repo.MarkFailed("outbox-fixed-id"))
	require.ErrorIs(t, repo.MarkSent("missing"), domain.ErrOutboxPublish)

	stats, err = repo.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRepository_RolledBackMessagesAreNotVisible(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	err := store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
		if _, err := tx.Order("missing"); err != nil {
			return err
		}
		return tx.EnqueueOutbox(domain.OutboxMessage{AggregateType: domain.AggregateOrder, Payload: []byte(`{}`)})
	})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	pending, err := store.Outbox().PullPending(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
