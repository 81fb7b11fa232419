package harness

// TraceEvent is one recorded scenario event. The trace is the golden
// comparison surface, so every field must be deterministic.
type TraceEvent struct {
	Step   int    `json:"step"`
	Action string `json:"action"`
	Client string `json:"client,omitempty"`
	TxID   string `json:"tx_id,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
	Cells  string `json:"cells,omitempty"`
	Note   string `json:"note,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every event in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists assertion failures. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates an empty passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}}
}

// AddError records an assertion failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// AddEvent appends a trace event.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
