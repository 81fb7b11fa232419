package op_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
	"github.com/quadratichq/quadratic-sub015/internal/op"
)

func TestWireEnvelopeTagged(t *testing.T) {
	data, err := op.Marshal(op.DeleteSheet{SheetID: "s1"})
	require.NoError(t, err)

	var env struct {
		Kind    string          `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "delete_sheet", env.Kind)
}

func TestWireRoundTripSetCellValues(t *testing.T) {
	original := op.SetCellValues{
		SheetID: "s1",
		Cells: []op.CellEntry{
			{Pos: grid.Pos{X: 1, Y: 1}, Value: grid.Number(1.5)},
			{Pos: grid.Pos{X: 2, Y: 1}, Value: grid.NewText("hi")},
			{Pos: grid.Pos{X: 3, Y: 1}, Value: grid.Logical(true)},
			{Pos: grid.Pos{X: 4, Y: 1}, Value: grid.Blank{}},
			{Pos: grid.Pos{X: 5, Y: 1}, Value: grid.ErrorValue{Code: grid.ErrCodeRun, Msg: "boom"}},
			{Pos: grid.Pos{X: 6, Y: 1}, Value: grid.NewCode(grid.LangPython, "1 + 1").WithOut(grid.Number(2))},
		},
	}

	data, err := op.Marshal(original)
	require.NoError(t, err)

	decoded, err := op.Unmarshal(data)
	require.NoError(t, err)

	got, ok := decoded.(op.SetCellValues)
	require.True(t, ok)
	require.Len(t, got.Cells, len(original.Cells))
	for i := range original.Cells {
		assert.Equal(t, original.Cells[i].Pos, got.Cells[i].Pos)
		assert.True(t, grid.ValueEqual(original.Cells[i].Value, got.Cells[i].Value),
			"cell %d: %v != %v", i, original.Cells[i].Value, got.Cells[i].Value)
	}
}

func TestWireNormalizesTextOnDecode(t *testing.T) {
	// Decomposed "e"+U+0301 in the wire payload decodes to the NFC form.
	raw := []byte(`{"kind":"set_cell_values","payload":{"sheet_id":"s1","cells":[` +
		`{"pos":{"x":1,"y":1},"value":{"kind":"text","text":"cafe\u0301"}}]}}`)

	decoded, err := op.Unmarshal(raw)
	require.NoError(t, err)

	got := decoded.(op.SetCellValues)
	assert.Equal(t, grid.Text("caf\u00e9"), got.Cells[0].Value)
}

func TestWireRejectsUnknownKind(t *testing.T) {
	_, err := op.Unmarshal([]byte(`{"kind":"explode","payload":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown operation kind "explode"`)
}

func TestWireRejectsNestedCodeOutput(t *testing.T) {
	raw := []byte(`{"kind":"set_code_output","payload":{"sheet_id":"s1","pos":{"x":1,"y":1},` +
		`"out":{"kind":"code","lang":"python","source":"x"}}}`)

	_, err := op.Unmarshal(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code output cannot itself be code")
}

func TestWireMarshalAllRoundTrip(t *testing.T) {
	ops := []op.Op{
		op.SetCellValues{SheetID: "s1", Cells: []op.CellEntry{
			{Pos: grid.Pos{X: 1, Y: 1}, Value: grid.Number(5)},
		}},
		op.RenameSheet{SheetID: "s1", Name: "Budget"},
		op.ResizeColumn{SheetID: "s1", Column: 2, Width: 120},
	}

	data, err := op.MarshalAll(ops)
	require.NoError(t, err)

	decoded, err := op.UnmarshalAll(data)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, op.KindSetCellValues, decoded[0].OpKind())
	assert.Equal(t, op.RenameSheet{SheetID: "s1", Name: "Budget"}, decoded[1])
	assert.Equal(t, op.ResizeColumn{SheetID: "s1", Column: 2, Width: 120}, decoded[2])
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := grid.NewSheet("s1", "Sheet1", 2)
	s.SetCell(grid.Pos{X: 2, Y: 1}, grid.NewText("b"))
	s.SetCell(grid.Pos{X: 1, Y: 1}, grid.NewText("a"))
	s.SetColumnWidth(1, 80)

	snap := op.Snapshot(s)
	// Entries sort row-major for a deterministic wire form.
	require.Len(t, snap.Cells, 2)
	assert.Equal(t, grid.Pos{X: 1, Y: 1}, snap.Cells[0].Pos)
	assert.Equal(t, grid.Pos{X: 2, Y: 1}, snap.Cells[1].Pos)

	restored := snap.Materialize()
	assert.True(t, s.Equal(restored))
}
