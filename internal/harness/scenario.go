package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a multiplayer conformance scenario: a set of
// simulated clients, a sequence of steps driving them, and assertions
// on the final grids.
type Scenario struct {
	// Name uniquely identifies this scenario; it is also the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Clients lists client names. Each client gets an independent
	// controller over its own copy of the starting grid. Order matters:
	// the ordering authority drains broadcasts in client order on sync.
	Clients []string `yaml:"clients"`

	// Steps is the scenario body, executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate final state after all steps ran.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action.
type Step struct {
	// Action selects the step type:
	//   - "set_cells":  client writes cell values (and code cells)
	//   - "undo":       client undoes its most recent transaction
	//   - "redo":       client redoes its most recent undo
	//   - "resume":     deliver the oldest outstanding async result
	//   - "cancel":     cancel the oldest outstanding async request
	//   - "sync":       authority sequences and delivers all pending
	//                   broadcasts to every client
	//   - "drop_next":  client's next broadcast is lost in transit
	//   - "reconnect":  client resends its unacknowledged transactions
	Action string `yaml:"action"`

	// Client names the acting client. Unused by "sync".
	Client string `yaml:"client,omitempty"`

	// Sheet names the target sheet for "set_cells". Defaults to the
	// scenario's starting sheet.
	Sheet string `yaml:"sheet,omitempty"`

	// Cells are the writes for "set_cells".
	Cells []CellSpec `yaml:"cells,omitempty"`

	// Value is the delivered result for "resume". A nil value with no
	// Error resolves the cell to blank.
	Value interface{} `yaml:"value,omitempty"`

	// Error is the delivered failure message for "resume".
	Error string `yaml:"error,omitempty"`
}

// CellSpec is one cell write. Exactly one of Value, Formula, or Python
// should be set; all empty clears the cell.
type CellSpec struct {
	X int64 `yaml:"x"`
	Y int64 `yaml:"y"`

	// Value is a literal: string, number, or bool.
	Value interface{} `yaml:"value,omitempty"`

	// Formula installs a synchronous formula cell. The test formula
	// language sums '+'-joined "(x,y)" references.
	Formula string `yaml:"formula,omitempty"`

	// Python installs an asynchronous code cell whose result arrives
	// through a later "resume" step. Its source declares reads in the
	// same "(x,y)" reference syntax.
	Python string `yaml:"python,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type specifies the assertion:
	//   - "cell_value": a cell's display value on one client
	//   - "can_undo":   undo availability on one client
	//   - "can_redo":   redo availability on one client
	//   - "sequence":   a client's last applied sequence number
	//   - "converged":  the named clients hold equal grids
	//   - "trace_contains": the trace holds an event with the given
	//     action (and client/note, when set)
	Type string `yaml:"type"`

	Client  string   `yaml:"client,omitempty"`
	Clients []string `yaml:"clients,omitempty"`
	Sheet   string   `yaml:"sheet,omitempty"`
	X       int64    `yaml:"x,omitempty"`
	Y       int64    `yaml:"y,omitempty"`

	// Action and Note narrow a trace_contains match.
	Action string `yaml:"action,omitempty"`
	Note   string `yaml:"note,omitempty"`

	// Expect is the expected value: the display string for cell_value,
	// a bool for can_undo/can_redo, an integer for sequence.
	Expect interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertCellValue     = "cell_value"
	AssertCanUndo       = "can_undo"
	AssertCanRedo       = "can_redo"
	AssertSequence      = "sequence"
	AssertConverged     = "converged"
	AssertTraceContains = "trace_contains"
)

// Step action constants.
const (
	ActionSetCells  = "set_cells"
	ActionUndo      = "undo"
	ActionRedo      = "redo"
	ActionResume    = "resume"
	ActionCancel    = "cancel"
	ActionSync      = "sync"
	ActionDropNext  = "drop_next"
	ActionReconnect = "reconnect"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and cross-references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Clients) == 0 {
		return fmt.Errorf("clients list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	known := make(map[string]bool, len(s.Clients))
	for i, name := range s.Clients {
		if name == "" {
			return fmt.Errorf("clients[%d]: name must be non-empty", i)
		}
		if known[name] {
			return fmt.Errorf("clients[%d]: duplicate client %q", i, name)
		}
		known[name] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, known); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, known); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step, clients map[string]bool) error {
	if st.Action == "" {
		return fmt.Errorf("steps[%d]: action is required", index)
	}

	needsClient := st.Action != ActionSync
	if needsClient {
		if st.Client == "" {
			return fmt.Errorf("steps[%d]: client is required for %s", index, st.Action)
		}
		if !clients[st.Client] {
			return fmt.Errorf("steps[%d]: unknown client %q", index, st.Client)
		}
	}

	switch st.Action {
	case ActionSetCells:
		if len(st.Cells) == 0 {
			return fmt.Errorf("steps[%d]: cells list is required for set_cells", index)
		}
		for j, c := range st.Cells {
			if c.X < 1 || c.Y < 1 {
				return fmt.Errorf("steps[%d].cells[%d]: coordinates are 1-based", index, j)
			}
			set := 0
			if c.Value != nil {
				set++
			}
			if c.Formula != "" {
				set++
			}
			if c.Python != "" {
				set++
			}
			if set > 1 {
				return fmt.Errorf("steps[%d].cells[%d]: value, formula, and python are mutually exclusive", index, j)
			}
		}
	case ActionResume:
		if st.Value != nil && st.Error != "" {
			return fmt.Errorf("steps[%d]: value and error are mutually exclusive for resume", index)
		}
	case ActionUndo, ActionRedo, ActionCancel, ActionSync, ActionDropNext, ActionReconnect:
		// No extra fields.
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
	return nil
}

func validateAssertion(index int, a *Assertion, clients map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCellValue:
		if a.Client == "" || !clients[a.Client] {
			return fmt.Errorf("assertions[%d]: known client is required for cell_value", index)
		}
		if a.X < 1 || a.Y < 1 {
			return fmt.Errorf("assertions[%d]: coordinates are 1-based", index)
		}
	case AssertCanUndo, AssertCanRedo, AssertSequence:
		if a.Client == "" || !clients[a.Client] {
			return fmt.Errorf("assertions[%d]: known client is required for %s", index, a.Type)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
		if a.Client != "" && !clients[a.Client] {
			return fmt.Errorf("assertions[%d]: unknown client %q", index, a.Client)
		}
	case AssertConverged:
		if len(a.Clients) < 2 {
			return fmt.Errorf("assertions[%d]: converged requires at least two clients", index)
		}
		for _, name := range a.Clients {
			if !clients[name] {
				return fmt.Errorf("assertions[%d]: unknown client %q", index, name)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
