// Package harness runs multiplayer conformance scenarios against the
// real engine: each scenario builds independent client controllers over
// copies of one starting grid, drives them through edits, undo/redo,
// async results, and synchronization rounds via a simulated ordering
// authority, then asserts on the resulting grids. Traces are
// deterministic (fixed id generators, client-order sequencing) so
// scenario runs compare against golden files.
package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quadratichq/quadratic-sub015/internal/engine"
	"github.com/quadratichq/quadratic-sub015/internal/grid"
	"github.com/quadratichq/quadratic-sub015/internal/op"
	"github.com/quadratichq/quadratic-sub015/internal/testutil"
)

// The starting grid every client begins from: one empty sheet.
const (
	startSheetID   grid.SheetID = "sheet-1"
	startSheetName              = "Sheet1"
)

// client is one simulated participant: a controller over its own grid
// copy, a recording transport, and a stub async evaluator.
type client struct {
	name      string
	ctrl      *engine.Controller
	sender    *testutil.RecordingSender
	requester *testutil.RecordingRequester
	async     *testutil.AsyncStubRuntime

	// sequenced tracks how many broadcasts the authority has already
	// assigned sequence numbers to.
	sequenced int

	// resumed tracks how many async requests have been resolved, so
	// "resume" steps address the oldest outstanding one.
	resumed int
}

// simulation is the wired-up scenario state: clients plus the ordering
// authority's sequence counter.
type simulation struct {
	clients []*client
	byName  map[string]*client
	nextSeq uint64
}

// Run executes a scenario and returns its result. Each run builds a
// fresh simulation, so scenarios are isolated and reproducible.
func Run(scenario *Scenario) (*Result, error) {
	sim, err := newSimulation(scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		if err := sim.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Action, err)
		}
	}

	evaluateAssertions(scenario, sim, result)
	return result, nil
}

func newSimulation(scenario *Scenario) (*simulation, error) {
	sim := &simulation{byName: make(map[string]*client, len(scenario.Clients))}

	for _, name := range scenario.Clients {
		g := grid.New()
		if err := g.AddSheet(grid.NewSheet(startSheetID, startSheetName, 0)); err != nil {
			return nil, fmt.Errorf("client %s: %w", name, err)
		}

		cl := &client{
			name:      name,
			sender:    &testutil.RecordingSender{},
			requester: &testutil.RecordingRequester{},
			async:     &testutil.AsyncStubRuntime{},
		}

		runtimes := engine.NewRuntimeRegistry()
		runtimes.Register(grid.LangFormula, testutil.RefSumRuntime{})
		runtimes.Register(grid.LangPython, cl.async)

		cl.ctrl = engine.NewController(
			g, runtimes, cl.sender, cl.requester, &testutil.MemoryLedger{},
			engine.WithIDGenerator(testutil.NewSeqGenerator(name)),
		)

		sim.clients = append(sim.clients, cl)
		sim.byName[name] = cl
	}
	return sim, nil
}

func (s *simulation) executeStep(ctx context.Context, index int, st Step, result *Result) error {
	switch st.Action {
	case ActionSetCells:
		return s.stepSetCells(ctx, index, st, result)
	case ActionUndo, ActionRedo:
		return s.stepUndoRedo(ctx, index, st, result)
	case ActionResume:
		return s.stepResume(ctx, index, st, result)
	case ActionCancel:
		return s.stepCancel(ctx, index, st, result)
	case ActionSync:
		return s.stepSync(ctx, index, result)
	case ActionDropNext:
		s.byName[st.Client].sender.FailNext = true
		result.AddEvent(TraceEvent{Step: index, Action: st.Action, Client: st.Client})
		return nil
	case ActionReconnect:
		return s.stepReconnect(ctx, index, st, result)
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
}

func (s *simulation) stepSetCells(ctx context.Context, index int, st Step, result *Result) error {
	cl := s.byName[st.Client]

	sheetID := startSheetID
	if st.Sheet != "" {
		sh := cl.ctrl.Grid().SheetByName(st.Sheet)
		if sh == nil {
			return fmt.Errorf("client %s has no sheet named %q", st.Client, st.Sheet)
		}
		sheetID = sh.ID
	}

	entries := make([]op.CellEntry, len(st.Cells))
	for i, c := range st.Cells {
		v, err := specValue(c)
		if err != nil {
			return err
		}
		entries[i] = op.CellEntry{Pos: grid.Pos{X: c.X, Y: c.Y}, Value: v}
	}

	cursor := engine.Cursor{SheetID: sheetID, Pos: entries[0].Pos}
	tx, err := cl.ctrl.ApplyUserEdit(ctx, []op.Op{
		op.SetCellValues{SheetID: sheetID, Cells: entries},
	}, cursor)
	if err != nil {
		return err
	}

	ev := TraceEvent{Step: index, Action: st.Action, Client: st.Client, Cells: summarizeCells(st.Cells)}
	if tx == nil {
		ev.Note = "suspended"
	} else {
		ev.TxID = tx.ID
	}
	result.AddEvent(ev)
	return nil
}

func (s *simulation) stepUndoRedo(ctx context.Context, index int, st Step, result *Result) error {
	cl := s.byName[st.Client]

	var (
		tx  *engine.Transaction
		err error
	)
	if st.Action == ActionUndo {
		tx, err = cl.ctrl.Undo(ctx)
	} else {
		tx, err = cl.ctrl.Redo(ctx)
	}
	if err != nil {
		return err
	}

	ev := TraceEvent{Step: index, Action: st.Action, Client: st.Client}
	if tx == nil {
		ev.Note = "noop"
	} else {
		ev.TxID = tx.ID
	}
	result.AddEvent(ev)
	return nil
}

func (s *simulation) stepResume(ctx context.Context, index int, st Step, result *Result) error {
	cl := s.byName[st.Client]
	if cl.resumed >= len(cl.async.Issued) {
		return fmt.Errorf("client %s has no outstanding async request", st.Client)
	}
	req := cl.async.Issued[cl.resumed]
	cl.resumed++

	res := engine.AsyncResult{
		TransactionID: req.TransactionID,
		Cell:          req.Cell,
		ErrMsg:        st.Error,
	}
	if st.Value != nil {
		v, err := scalarValue(st.Value)
		if err != nil {
			return err
		}
		res.Value = v
	}

	tx, err := cl.ctrl.ResumeCompute(ctx, res)
	if err != nil {
		return err
	}

	ev := TraceEvent{Step: index, Action: st.Action, Client: st.Client}
	if tx == nil {
		ev.Note = "suspended"
	} else {
		ev.TxID = tx.ID
	}
	result.AddEvent(ev)
	return nil
}

func (s *simulation) stepCancel(ctx context.Context, index int, st Step, result *Result) error {
	cl := s.byName[st.Client]
	if cl.resumed >= len(cl.async.Issued) {
		return fmt.Errorf("client %s has no outstanding async request", st.Client)
	}
	req := cl.async.Issued[cl.resumed]
	cl.resumed++

	tx, err := cl.ctrl.CancelCompute(ctx, req.TransactionID)
	if err != nil {
		return err
	}

	ev := TraceEvent{Step: index, Action: st.Action, Client: st.Client}
	if tx == nil {
		ev.Note = "suspended"
	} else {
		ev.TxID = tx.ID
	}
	result.AddEvent(ev)
	return nil
}

// stepSync plays the ordering authority: every undelivered broadcast
// gets the next sequence number, the origin receives the
// acknowledgement, and every other client receives the transaction.
// Broadcasts drain in client declaration order, then send order.
func (s *simulation) stepSync(ctx context.Context, index int, result *Result) error {
	for _, origin := range s.clients {
		for origin.sequenced < len(origin.sender.Sent) {
			b := origin.sender.Sent[origin.sequenced]
			origin.sequenced++
			s.nextSeq++
			seq := s.nextSeq

			if err := origin.ctrl.ReceiveSequenceNum(ctx, b.ID, seq); err != nil {
				return fmt.Errorf("ack %s to %s: %w", b.ID, origin.name, err)
			}
			for _, other := range s.clients {
				if other == origin {
					continue
				}
				remote := engine.RemoteTransaction{ID: b.ID, SequenceNum: seq, Operations: b.Ops}
				if err := other.ctrl.ReceiveRemote(ctx, remote); err != nil {
					return fmt.Errorf("deliver %s to %s: %w", b.ID, other.name, err)
				}
			}

			result.AddEvent(TraceEvent{
				Step:   index,
				Action: "ack",
				Client: origin.name,
				TxID:   b.ID,
				Seq:    seq,
			})
		}
	}
	return nil
}

func (s *simulation) stepReconnect(ctx context.Context, index int, st Step, result *Result) error {
	cl := s.byName[st.Client]
	before := len(cl.sender.Sent)
	if err := cl.ctrl.Reconnect(ctx); err != nil {
		return err
	}
	result.AddEvent(TraceEvent{
		Step:   index,
		Action: st.Action,
		Client: st.Client,
		Note:   fmt.Sprintf("resent %d", len(cl.sender.Sent)-before),
	})
	return nil
}

// specValue converts a cell spec to its grid value.
func specValue(c CellSpec) (grid.CellValue, error) {
	switch {
	case c.Formula != "":
		return grid.NewCode(grid.LangFormula, c.Formula), nil
	case c.Python != "":
		return grid.NewCode(grid.LangPython, c.Python), nil
	case c.Value != nil:
		return scalarValue(c.Value)
	default:
		return grid.Blank{}, nil
	}
}

// scalarValue converts a YAML scalar to a grid value.
func scalarValue(v interface{}) (grid.CellValue, error) {
	switch val := v.(type) {
	case string:
		return grid.NewText(val), nil
	case int:
		return grid.Number(val), nil
	case int64:
		return grid.Number(val), nil
	case float64:
		return grid.Number(val), nil
	case bool:
		return grid.Logical(val), nil
	default:
		return nil, fmt.Errorf("unsupported scalar type %T", v)
	}
}

// summarizeCells renders a deterministic one-line summary for the
// trace, cells in the order written.
func summarizeCells(cells []CellSpec) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		switch {
		case c.Formula != "":
			parts[i] = fmt.Sprintf("(%d,%d)=formula[%s]", c.X, c.Y, c.Formula)
		case c.Python != "":
			parts[i] = fmt.Sprintf("(%d,%d)=python[%s]", c.X, c.Y, c.Python)
		case c.Value != nil:
			parts[i] = fmt.Sprintf("(%d,%d)=%v", c.X, c.Y, c.Value)
		default:
			parts[i] = fmt.Sprintf("(%d,%d)=blank", c.X, c.Y)
		}
	}
	return strings.Join(parts, " ")
}

// sortedNames returns client names in declaration order filtered to the
// given subset. Used by convergence assertions for stable messages.
func (s *simulation) sortedNames(subset []string) []string {
	out := append([]string(nil), subset...)
	sort.Slice(out, func(i, j int) bool {
		return s.declIndex(out[i]) < s.declIndex(out[j])
	})
	return out
}

func (s *simulation) declIndex(name string) int {
	for i, cl := range s.clients {
		if cl.name == name {
			return i
		}
	}
	return len(s.clients)
}
