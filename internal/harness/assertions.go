package harness

import (
	"fmt"
	"strings"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
)

// evaluateAssertions checks every assertion against the simulation's
// final state, recording failures on the result.
func evaluateAssertions(scenario *Scenario, sim *simulation, result *Result) {
	for i, a := range scenario.Assertions {
		if msg := evaluateAssertion(i, a, sim, result.Trace); msg != "" {
			result.AddError(msg)
		}
	}
}

func evaluateAssertion(index int, a Assertion, sim *simulation, trace []TraceEvent) string {
	switch a.Type {
	case AssertCellValue:
		return assertCellValue(index, a, sim)
	case AssertCanUndo:
		return assertBool(index, a, sim.byName[a.Client].ctrl.CanUndo(), "can_undo")
	case AssertCanRedo:
		return assertBool(index, a, sim.byName[a.Client].ctrl.CanRedo(), "can_redo")
	case AssertSequence:
		return assertSequence(index, a, sim)
	case AssertConverged:
		return assertConverged(index, a, sim)
	case AssertTraceContains:
		return assertTraceContains(index, a, trace)
	default:
		return fmt.Sprintf("assertions[%d]: unknown type %q", index, a.Type)
	}
}

func assertCellValue(index int, a Assertion, sim *simulation) string {
	cl := sim.byName[a.Client]
	sp := grid.SheetPos{SheetID: startSheetID, Pos: grid.Pos{X: a.X, Y: a.Y}}

	actual, err := cl.ctrl.Grid().Cell(sp)
	if err != nil {
		return fmt.Sprintf("assertions[%d]: read %s (%d,%d): %v", index, a.Client, a.X, a.Y, err)
	}

	want := expectedDisplay(a.Expect)
	if got := actual.Display(); got != want {
		return fmt.Sprintf("assertions[%d]: %s (%d,%d) = %q, want %q",
			index, a.Client, a.X, a.Y, got, want)
	}
	return ""
}

func assertBool(index int, a Assertion, actual bool, what string) string {
	want, ok := a.Expect.(bool)
	if !ok {
		return fmt.Sprintf("assertions[%d]: %s expect must be a bool, got %T", index, what, a.Expect)
	}
	if actual != want {
		return fmt.Sprintf("assertions[%d]: %s %s = %v, want %v", index, a.Client, what, actual, want)
	}
	return ""
}

func assertSequence(index int, a Assertion, sim *simulation) string {
	want, ok := toUint64(a.Expect)
	if !ok {
		return fmt.Sprintf("assertions[%d]: sequence expect must be an integer, got %T", index, a.Expect)
	}
	if got := sim.byName[a.Client].ctrl.LastSequenceNum(); got != want {
		return fmt.Sprintf("assertions[%d]: %s sequence = %d, want %d", index, a.Client, got, want)
	}
	return ""
}

func assertConverged(index int, a Assertion, sim *simulation) string {
	names := sim.sortedNames(a.Clients)
	first := sim.byName[names[0]]
	var diverged []string
	for _, name := range names[1:] {
		if !first.ctrl.Grid().Equal(sim.byName[name].ctrl.Grid()) {
			diverged = append(diverged, name)
		}
	}
	if len(diverged) > 0 {
		return fmt.Sprintf("assertions[%d]: clients %s diverged from %s",
			index, strings.Join(diverged, ","), names[0])
	}
	return ""
}

func assertTraceContains(index int, a Assertion, trace []TraceEvent) string {
	for _, ev := range trace {
		if ev.Action != a.Action {
			continue
		}
		if a.Client != "" && ev.Client != a.Client {
			continue
		}
		if a.Note != "" && !strings.Contains(ev.Note, a.Note) {
			continue
		}
		return ""
	}
	return fmt.Sprintf("assertions[%d]: no trace event matches action=%q client=%q note=%q",
		index, a.Action, a.Client, a.Note)
}

// expectedDisplay renders the expected scalar the way the grid would
// display it, so YAML `5` matches Number(5) and `true` matches TRUE.
func expectedDisplay(expect interface{}) string {
	if expect == nil {
		return ""
	}
	v, err := scalarValue(expect)
	if err != nil {
		return fmt.Sprintf("%v", expect)
	}
	return v.Display()
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}
