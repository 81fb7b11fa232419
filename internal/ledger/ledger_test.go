package ledger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
	"github.com/quadratichq/quadratic-sub015/internal/ledger"
	"github.com/quadratichq/quadratic-sub015/internal/op"
)

func testOps(x, y int64, text string) []op.Op {
	return []op.Op{op.SetCellValues{SheetID: "s1", Cells: []op.CellEntry{
		{Pos: grid.Pos{X: x, Y: y}, Value: grid.NewText(text)},
	}}}
}

func openTemp(t *testing.T) (*ledger.Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grid.db")
	l, err := ledger.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestAppendAndUnackedRoundTrip(t *testing.T) {
	l, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "tx-1", testOps(1, 1, "a")))
	require.NoError(t, l.Append(ctx, "tx-2", testOps(2, 1, "b")))

	rows, err := l.Unacked(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Creation order, operations intact.
	assert.Equal(t, "tx-1", rows[0].ID)
	assert.Equal(t, "tx-2", rows[1].ID)
	require.Len(t, rows[0].Operations, 1)
	got := rows[0].Operations[0].(op.SetCellValues)
	assert.True(t, grid.ValueEqual(grid.NewText("a"), got.Cells[0].Value))
}

func TestAppendIdempotent(t *testing.T) {
	l, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "tx-1", testOps(1, 1, "a")))
	require.NoError(t, l.Append(ctx, "tx-1", testOps(1, 1, "a")))

	n, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkSentIncrements(t *testing.T) {
	l, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "tx-1", testOps(1, 1, "a")))
	require.NoError(t, l.MarkSent(ctx, "tx-1"))
	require.NoError(t, l.MarkSent(ctx, "tx-1"))

	rows, err := l.Unacked(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].SendCount)
}

func TestDeleteRemovesAndIgnoresUnknown(t *testing.T) {
	l, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "tx-1", testOps(1, 1, "a")))
	require.NoError(t, l.Delete(ctx, "tx-1"))
	require.NoError(t, l.Delete(ctx, "tx-1"))
	require.NoError(t, l.Delete(ctx, "never-appended"))

	n, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReopenPersists(t *testing.T) {
	l, path := openTemp(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "tx-1", testOps(1, 1, "a")))
	require.NoError(t, l.MarkSent(ctx, "tx-1"))
	require.NoError(t, l.Close())

	reopened, err := ledger.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	rows, err := reopened.Unacked(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "tx-1", rows[0].ID)
	assert.Equal(t, 1, rows[0].SendCount)
}
