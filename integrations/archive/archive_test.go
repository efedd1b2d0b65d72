package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"sorosusu/core/events"
	"sorosusu/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string    { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func circleEvent(eventType string, circleID string) events.Event {
	return testEvent{evt: &types.Event{Type: eventType, Attributes: map[string]string{"circleId": circleID, "cycleNumber": "1"}}}
}

func openMemory(t *testing.T) *Archive {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	archive, err := Open(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })
	return archive
}

func TestArchiveRecordsAndFilters(t *testing.T) {
	archive := openMemory(t)
	archive.Emit(circleEvent("susu.circle.created", "1"))
	archive.Emit(circleEvent("susu.member.joined", "1"))
	archive.Emit(circleEvent("susu.circle.created", "2"))
	archive.Emit(testEvent{evt: &types.Event{Type: "bank.transfer", Attributes: map[string]string{"amount": "5"}}})

	ctx := context.Background()
	all, err := archive.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, record := range all {
		require.Equal(t, int64(i+1), record.Sequence)
	}

	circle, err := archive.List(ctx, Filter{CircleID: 1})
	require.NoError(t, err)
	require.Len(t, circle, 2)
	require.Equal(t, "susu.member.joined", circle[1].Type)
	evt, err := circle[1].Event()
	require.NoError(t, err)
	require.Equal(t, "1", evt.Attr("circleId"))

	created, err := archive.List(ctx, Filter{Type: "susu.circle.created"})
	require.NoError(t, err)
	require.Len(t, created, 2)

	page, err := archive.List(ctx, Filter{After: 2, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, int64(3), page[0].Sequence)
}

func TestArchiveResumesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	first, err := Open(path, nil)
	require.NoError(t, err)
	_, err = first.Record(context.Background(), circleEvent("susu.circle.created", "7"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open("sqlite://"+path, nil)
	require.NoError(t, err)
	defer second.Close()
	record, err := second.Record(context.Background(), circleEvent("susu.group.rollover", "7"))
	require.NoError(t, err)
	require.Equal(t, int64(2), record.Sequence)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ", nil)
	require.ErrorIs(t, err, ErrEmptyDSN)
}

func TestDialectorSelection(t *testing.T) {
	require.Equal(t, "postgres", dialector("postgres://user@localhost/susu").Name())
	require.Equal(t, "postgres", dialector("host=localhost user=susu dbname=susu").Name())
	require.Equal(t, "sqlite", dialector("file:events.db").Name())
}
