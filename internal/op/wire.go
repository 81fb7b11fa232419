package op

import (
	"encoding/json"
	"fmt"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
)

// Wire form: every operation serializes as a tagged envelope
//
//	{"kind": "set_cell_values", "payload": {...}}
//
// self-describing enough for a differently-stated client to apply the
// identical mutation. Cell values serialize as tagged variants; text is
// NFC-normalized on decode so equivalent input converges across clients.

type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal encodes one operation into its wire form.
func Marshal(o Op) ([]byte, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", o.OpKind(), err)
	}
	return json.Marshal(envelope{Kind: o.OpKind(), Payload: payload})
}

// Unmarshal decodes one operation from its wire form.
func Unmarshal(data []byte) (Op, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal operation envelope: %w", err)
	}

	var (
		o   Op
		err error
	)
	switch env.Kind {
	case KindSetCellValues:
		o, err = decodePayload[SetCellValues](env.Payload)
	case KindSetCodeOutput:
		o, err = decodePayload[SetCodeOutput](env.Payload)
	case KindSetFormats:
		o, err = decodePayload[SetFormats](env.Payload)
	case KindSetBorders:
		o, err = decodePayload[SetBorders](env.Payload)
	case KindSetValidation:
		o, err = decodePayload[SetValidation](env.Payload)
	case KindResizeColumn:
		o, err = decodePayload[ResizeColumn](env.Payload)
	case KindResizeRow:
		o, err = decodePayload[ResizeRow](env.Payload)
	case KindAddSheet:
		o, err = decodePayload[AddSheet](env.Payload)
	case KindDeleteSheet:
		o, err = decodePayload[DeleteSheet](env.Payload)
	case KindRenameSheet:
		o, err = decodePayload[RenameSheet](env.Payload)
	case KindReorderSheet:
		o, err = decodePayload[ReorderSheet](env.Payload)
	default:
		return nil, fmt.Errorf("unknown operation kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Kind, err)
	}
	return o, nil
}

func decodePayload[T Op](payload json.RawMessage) (Op, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalAll encodes an operation list as a JSON array of envelopes.
func MarshalAll(ops []Op) ([]byte, error) {
	raw := make([]json.RawMessage, len(ops))
	for i, o := range ops {
		data, err := Marshal(o)
		if err != nil {
			return nil, err
		}
		raw[i] = data
	}
	return json.Marshal(raw)
}

// UnmarshalAll decodes a JSON array of envelopes.
func UnmarshalAll(data []byte) ([]Op, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal operation list: %w", err)
	}
	ops := make([]Op, len(raw))
	for i, r := range raw {
		o, err := Unmarshal(r)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops[i] = o
	}
	return ops, nil
}

// valueJSON is the tagged wire form of grid.CellValue.
type valueJSON struct {
	Kind    grid.ValueKind   `json:"kind"`
	Text    string           `json:"text,omitempty"`
	Number  *float64         `json:"number,omitempty"`
	Logical *bool            `json:"logical,omitempty"`
	Error   *grid.ErrorValue `json:"error,omitempty"`
	Lang    grid.Language    `json:"lang,omitempty"`
	Source  string           `json:"source,omitempty"`
	Out     *valueJSON       `json:"out,omitempty"`
}

func encodeValue(v grid.CellValue) *valueJSON {
	if v == nil {
		v = grid.Blank{}
	}
	switch cv := v.(type) {
	case grid.Blank:
		return &valueJSON{Kind: grid.KindBlank}
	case grid.Text:
		return &valueJSON{Kind: grid.KindText, Text: string(cv)}
	case grid.Number:
		f := float64(cv)
		return &valueJSON{Kind: grid.KindNumber, Number: &f}
	case grid.Logical:
		b := bool(cv)
		return &valueJSON{Kind: grid.KindLogical, Logical: &b}
	case grid.ErrorValue:
		e := cv
		return &valueJSON{Kind: grid.KindError, Error: &e}
	case grid.Code:
		out := &valueJSON{Kind: grid.KindCode, Lang: cv.Lang, Source: cv.Source}
		if cv.Out != nil {
			out.Out = encodeValue(cv.Out)
		}
		return out
	}
	return &valueJSON{Kind: grid.KindBlank}
}

func decodeValue(w *valueJSON) (grid.CellValue, error) {
	if w == nil {
		return grid.Blank{}, nil
	}
	switch w.Kind {
	case grid.KindBlank, "":
		return grid.Blank{}, nil
	case grid.KindText:
		return grid.NewText(w.Text), nil
	case grid.KindNumber:
		if w.Number == nil {
			return nil, fmt.Errorf("number value missing payload")
		}
		return grid.Number(*w.Number), nil
	case grid.KindLogical:
		if w.Logical == nil {
			return nil, fmt.Errorf("logical value missing payload")
		}
		return grid.Logical(*w.Logical), nil
	case grid.KindError:
		if w.Error == nil {
			return nil, fmt.Errorf("error value missing payload")
		}
		return *w.Error, nil
	case grid.KindCode:
		code := grid.NewCode(w.Lang, w.Source)
		if w.Out != nil {
			out, err := decodeValue(w.Out)
			if err != nil {
				return nil, fmt.Errorf("code output: %w", err)
			}
			if _, nested := out.(grid.Code); nested {
				return nil, fmt.Errorf("code output cannot itself be code")
			}
			code = code.WithOut(out)
		}
		return code, nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", w.Kind)
	}
}

// MarshalJSON encodes the entry with a tagged value.
func (e CellEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Pos   grid.Pos   `json:"pos"`
		Value *valueJSON `json:"value"`
	}{Pos: e.Pos, Value: encodeValue(e.Value)})
}

// UnmarshalJSON decodes the entry, normalizing text values.
func (e *CellEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Pos   grid.Pos   `json:"pos"`
		Value *valueJSON `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := decodeValue(raw.Value)
	if err != nil {
		return err
	}
	e.Pos = raw.Pos
	e.Value = v
	return nil
}

// MarshalJSON encodes the operation with a tagged output value.
func (o SetCodeOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SheetID grid.SheetID `json:"sheet_id"`
		Pos     grid.Pos     `json:"pos"`
		Out     *valueJSON   `json:"out"`
	}{SheetID: o.SheetID, Pos: o.Pos, Out: encodeValue(o.Out)})
}

// UnmarshalJSON decodes the operation, normalizing text values.
func (o *SetCodeOutput) UnmarshalJSON(data []byte) error {
	var raw struct {
		SheetID grid.SheetID `json:"sheet_id"`
		Pos     grid.Pos     `json:"pos"`
		Out     *valueJSON   `json:"out"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out, err := decodeValue(raw.Out)
	if err != nil {
		return err
	}
	if _, isCode := out.(grid.Code); isCode {
		return fmt.Errorf("code output cannot itself be code")
	}
	o.SheetID = raw.SheetID
	o.Pos = raw.Pos
	o.Out = out
	return nil
}
