package engine

import (
	"context"
	"fmt"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
)

// CellReader gives evaluators read access to the grid. Reads performed
// through it become dependency edges for the computing cell.
type CellReader interface {
	Cell(sp grid.SheetPos) (grid.CellValue, error)
}

// EvalRequest describes one code-cell evaluation.
type EvalRequest struct {
	// TransactionID keys the suspended transaction for async resumption.
	TransactionID string
	// Cell is the code cell being computed.
	Cell grid.SheetPos
	// Lang selects the runtime.
	Lang grid.Language
	// Source is the cell's code.
	Source string
}

// EvalResult is the outcome of one evaluation.
//
// Synchronous runtimes return the value directly. Asynchronous runtimes
// return Pending=true after dispatching the minimal cell-range request
// the external evaluator needs; the result arrives later through
// Resume. In both cases Reads lists the regions the evaluation reads -
// recorded as dependency edges at issue time, not at resolution time.
type EvalResult struct {
	Value   grid.CellValue
	Reads   []grid.SheetRect
	Pending bool
	Stdout  string
	Stderr  string
}

// LanguageRuntime is the capability interface a code-cell language
// plugs in through. The formula runtime is synchronous and in-process;
// scripting and connection runtimes hand off to out-of-process
// evaluators that cannot block the calling thread.
type LanguageRuntime interface {
	// IsAsync reports whether Evaluate suspends the transaction.
	IsAsync() bool

	// Evaluate computes the cell. Async runtimes dispatch the external
	// request and return Pending=true; the transaction suspends until
	// Resume delivers the result.
	Evaluate(ctx context.Context, req EvalRequest, reader CellReader) (EvalResult, error)
}

// ReadDeclarer is an optional runtime capability: report the regions a
// source reads without dispatching an evaluation. The executor uses it
// to restore dependency edges for async cells whose outputs arrive
// pre-computed (replayed or remote transactions).
type ReadDeclarer interface {
	DeclareReads(req EvalRequest) []grid.SheetRect
}

// RuntimeRegistry dispatches code cells to their language runtime.
// A closed tagged dispatch - no reflection.
type RuntimeRegistry struct {
	runtimes map[grid.Language]LanguageRuntime
}

// NewRuntimeRegistry creates an empty registry.
func NewRuntimeRegistry() *RuntimeRegistry {
	return &RuntimeRegistry{runtimes: make(map[grid.Language]LanguageRuntime)}
}

// Register installs a runtime for a language, replacing any prior one.
func (r *RuntimeRegistry) Register(lang grid.Language, rt LanguageRuntime) {
	r.runtimes[lang] = rt
}

// Lookup returns the runtime for a language.
func (r *RuntimeRegistry) Lookup(lang grid.Language) (LanguageRuntime, error) {
	rt, ok := r.runtimes[lang]
	if !ok {
		return nil, fmt.Errorf("no runtime registered for language %q", lang)
	}
	return rt, nil
}

// AsyncResult is an async compute result delivered by an external
// evaluator: success or error, plus captured output streams.
type AsyncResult struct {
	TransactionID string         `json:"transaction_id"`
	Cell          grid.SheetPos  `json:"cell"`
	Value         grid.CellValue `json:"-"`
	ErrMsg        string         `json:"error,omitempty"`
	Cancelled     bool           `json:"cancelled,omitempty"`
	Stdout        string         `json:"stdout,omitempty"`
	Stderr        string         `json:"stderr,omitempty"`
}

// outputValue converts the delivered result into the cell's new output:
// the computed value on success, an error value on failure or
// cancellation. Either way the suspended transaction resolves.
func (r AsyncResult) outputValue() grid.CellValue {
	if r.Cancelled {
		return grid.ErrorValue{Code: grid.ErrCodeCancelled, Msg: "computation cancelled"}
	}
	if r.ErrMsg != "" {
		return grid.ErrorValue{Code: grid.ErrCodeRun, Msg: r.ErrMsg}
	}
	if r.Value == nil {
		return grid.Blank{}
	}
	return r.Value
}
