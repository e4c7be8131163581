package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/arbwatch/internal/domain/schema"
)

func TestNotificationStoreNilPool(t *testing.T) {
	store := NewNotificationStore(nil)
	ctx := context.Background()
	if err := store.Insert(ctx, schema.Notification{ID: "n1", Scope: "p1"}); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.Recent(ctx, "p1", 10); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}

type memoryInserter struct {
	mu    sync.Mutex
	rows  []schema.Notification
	fail  bool
	block chan struct{}
}

func (m *memoryInserter) Insert(ctx context.Context, n schema.Notification) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.fail {
		return errors.New("insert failed")
	}
	m.mu.Lock()
	m.rows = append(m.rows, n)
	m.mu.Unlock()
	return nil
}

func (m *memoryInserter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func TestJournalWritesAsynchronously(t *testing.T) {
	store := &memoryInserter{}
	j, err := NewJournal(store, 2, 16, nil)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		j.Record(schema.Notification{ID: id, Scope: "p1", Type: schema.NotifyCreated})
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, j.Close(ctx))
	require.Equal(t, 3, store.count())
}

func TestJournalDropsWhenQueueFull(t *testing.T) {
	store := &memoryInserter{block: make(chan struct{})}
	j, err := NewJournal(store, 1, 1, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		j.Record(schema.Notification{ID: string(rune('a' + i)), Scope: "p1"})
	}
	close(store.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, j.Close(ctx))
	require.Less(t, store.count(), 5)
	require.GreaterOrEqual(t, store.count(), 1)
}

func TestNewJournalRequiresStore(t *testing.T) {
	_, err := NewJournal(nil, 1, 1, nil)
	require.Error(t, err)
}
