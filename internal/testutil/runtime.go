// Package testutil provides deterministic evaluators and recording
// sinks for engine, harness, and CLI tests.
package testutil

import (
	"context"
	"fmt"
	"strings"

	"github.com/quadratichq/quadratic-sub015/internal/engine"
	"github.com/quadratichq/quadratic-sub015/internal/grid"
)

// RefSumRuntime is a minimal synchronous formula evaluator for tests
// and scenarios: the source is a '+'-joined list of cell references in
// "(x,y)" form, and the result is the numeric sum of the referenced
// cells on the computing cell's sheet.
//
//	"(1,1)+(2,1)"  ->  value of (1,1) plus value of (2,1)
//
// Non-numeric referenced cells count as zero. Referenced cells are
// reported as reads, so the dependency tracker sees exactly what the
// formula touched - including a self-reference, which the executor
// rejects as circular.
type RefSumRuntime struct{}

var _ engine.LanguageRuntime = RefSumRuntime{}

// IsAsync reports false: formulas evaluate in-process.
func (RefSumRuntime) IsAsync() bool { return false }

// Evaluate parses the reference list, reads each cell, and sums.
func (RefSumRuntime) Evaluate(_ context.Context, req engine.EvalRequest, reader engine.CellReader) (engine.EvalResult, error) {
	refs, err := ParseRefs(req.Source)
	if err != nil {
		return engine.EvalResult{}, fmt.Errorf("parse formula %q: %w", req.Source, err)
	}

	var (
		sum   float64
		reads []grid.SheetRect
	)
	for _, pos := range refs {
		sp := grid.SheetPos{SheetID: req.Cell.SheetID, Pos: pos}
		reads = append(reads, grid.SheetRectAt(sp))

		v, err := reader.Cell(sp)
		if err != nil {
			return engine.EvalResult{}, err
		}
		sum += numericValue(v)
	}
	return engine.EvalResult{Value: grid.Number(sum), Reads: reads}, nil
}

// ParseRefs parses a '+'-joined "(x,y)" reference list.
func ParseRefs(source string) ([]grid.Pos, error) {
	var out []grid.Pos
	for _, part := range strings.Split(source, "+") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var x, y int64
		if _, err := fmt.Sscanf(part, "(%d,%d)", &x, &y); err != nil {
			return nil, fmt.Errorf("bad reference %q", part)
		}
		out = append(out, grid.Pos{X: x, Y: y})
	}
	return out, nil
}

func numericValue(v grid.CellValue) float64 {
	switch cv := v.(type) {
	case grid.Number:
		return float64(cv)
	case grid.Code:
		if out, ok := cv.Out.(grid.Number); ok {
			return float64(out)
		}
	}
	return 0
}

// AsyncStubRuntime simulates an out-of-process evaluator: Evaluate
// records the issued request and suspends; the test later delivers the
// result through Resume.
//
// The source uses the same "(x,y)" reference syntax as RefSumRuntime so
// dependency edges are recorded at issue time.
type AsyncStubRuntime struct {
	// Issued collects every request handed to the external evaluator.
	Issued []engine.EvalRequest
}

var (
	_ engine.LanguageRuntime = (*AsyncStubRuntime)(nil)
	_ engine.ReadDeclarer    = (*AsyncStubRuntime)(nil)
)

// IsAsync reports true: results arrive later through Resume.
func (*AsyncStubRuntime) IsAsync() bool { return true }

// Evaluate records the request and returns Pending with the declared
// reads.
func (r *AsyncStubRuntime) Evaluate(_ context.Context, req engine.EvalRequest, _ engine.CellReader) (engine.EvalResult, error) {
	reads, err := refRects(req)
	if err != nil {
		return engine.EvalResult{}, err
	}
	r.Issued = append(r.Issued, req)
	return engine.EvalResult{Pending: true, Reads: reads}, nil
}

// DeclareReads re-parses the source's references without dispatching,
// so the executor can record edges for cells whose outputs arrive
// pre-computed.
func (r *AsyncStubRuntime) DeclareReads(req engine.EvalRequest) []grid.SheetRect {
	reads, err := refRects(req)
	if err != nil {
		return nil
	}
	return reads
}

func refRects(req engine.EvalRequest) ([]grid.SheetRect, error) {
	refs, err := ParseRefs(req.Source)
	if err != nil {
		return nil, fmt.Errorf("parse source %q: %w", req.Source, err)
	}
	var reads []grid.SheetRect
	for _, pos := range refs {
		reads = append(reads, grid.SheetRectAt(grid.SheetPos{SheetID: req.Cell.SheetID, Pos: pos}))
	}
	return reads, nil
}

// LastIssued returns the most recently issued request.
// Panics if nothing was issued - fail-fast for test misconfiguration.
func (r *AsyncStubRuntime) LastIssued() engine.EvalRequest {
	if len(r.Issued) == 0 {
		panic("AsyncStubRuntime: no requests issued")
	}
	return r.Issued[len(r.Issued)-1]
}
