package grid

import (
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// CellValue is a sealed interface over the closed set of cell contents.
// Only Blank, Text, Number, Logical, ErrorValue, and Code implement it.
//
// Values are immutable once stored; mutations go through operations so
// the prior value can be captured for the reverse operation.
type CellValue interface {
	cellValue() // Sealed - only these types implement it

	// Kind returns the wire tag for this variant.
	Kind() ValueKind

	// Display returns the user-visible rendering of the value.
	Display() string
}

// ValueKind tags CellValue variants on the wire.
type ValueKind string

const (
	KindBlank   ValueKind = "blank"
	KindText    ValueKind = "text"
	KindNumber  ValueKind = "number"
	KindLogical ValueKind = "logical"
	KindError   ValueKind = "error"
	KindCode    ValueKind = "code"
)

// Blank is the empty cell value. Writing Blank to a cell clears it.
type Blank struct{}

func (Blank) cellValue()      {}
func (Blank) Kind() ValueKind { return KindBlank }
func (Blank) Display() string { return "" }

// Text is a plain string value. Stored text is NFC-normalized so that
// canonically-equivalent input from different clients compares equal and
// serializes identically for broadcast.
type Text string

// NewText returns an NFC-normalized Text value.
func NewText(s string) Text {
	return Text(norm.NFC.String(s))
}

func (Text) cellValue()        {}
func (Text) Kind() ValueKind   { return KindText }
func (t Text) Display() string { return string(t) }

// Number is a floating-point numeric value.
type Number float64

func (Number) cellValue()      {}
func (Number) Kind() ValueKind { return KindNumber }
func (n Number) Display() string {
	return strconv.FormatFloat(float64(n), 'G', -1, 64)
}

// Logical is a boolean value.
type Logical bool

func (Logical) cellValue()      {}
func (Logical) Kind() ValueKind { return KindLogical }
func (l Logical) Display() string {
	if l {
		return "TRUE"
	}
	return "FALSE"
}

// ErrorCode categorizes error cell values.
type ErrorCode string

const (
	// ErrCodeCircular marks a code cell that read its own output.
	ErrCodeCircular ErrorCode = "CIRCULAR_REFERENCE"
	// ErrCodeRun marks a code cell whose evaluation failed.
	ErrCodeRun ErrorCode = "RUN_ERROR"
	// ErrCodeCancelled marks a code cell whose evaluation was cancelled.
	ErrCodeCancelled ErrorCode = "CANCELLED"
)

// ErrorValue is an error shown in a cell: circular references, runtime
// failures from an evaluator, or user-cancelled computations. Error
// values are ordinary cell state - the owning transaction still commits.
type ErrorValue struct {
	Code ErrorCode `json:"code"`
	Msg  string    `json:"msg"`
}

func (ErrorValue) cellValue()      {}
func (ErrorValue) Kind() ValueKind { return KindError }
func (e ErrorValue) Display() string {
	return fmt.Sprintf("#%s", e.Code)
}

// Language identifies which runtime evaluates a code cell.
type Language string

const (
	LangFormula    Language = "formula"
	LangPython     Language = "python"
	LangJavascript Language = "javascript"
	LangConnection Language = "connection"
)

// Code is a code cell: source in some language plus the output of its
// most recent evaluation. Out is nil until the first evaluation lands.
//
// Out is never itself a Code value.
type Code struct {
	Lang   Language  `json:"lang"`
	Source string    `json:"source"`
	Out    CellValue `json:"out,omitempty"`
}

func (Code) cellValue()      {}
func (Code) Kind() ValueKind { return KindCode }
func (c Code) Display() string {
	if c.Out == nil {
		return ""
	}
	return c.Out.Display()
}

// NewCode returns a code cell with NFC-normalized source and no output.
func NewCode(lang Language, source string) Code {
	return Code{Lang: lang, Source: norm.NFC.String(source)}
}

// WithOut returns a copy of the code cell carrying a new output value.
func (c Code) WithOut(out CellValue) Code {
	c.Out = out
	return c
}

// ValueEqual reports deep equality of two cell values. nil is treated as
// Blank so an unset cell compares equal to an explicitly-cleared one.
func ValueEqual(a, b CellValue) bool {
	if a == nil {
		a = Blank{}
	}
	if b == nil {
		b = Blank{}
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Blank:
		return true
	case Text:
		return av == b.(Text)
	case Number:
		return av == b.(Number)
	case Logical:
		return av == b.(Logical)
	case ErrorValue:
		return av == b.(ErrorValue)
	case Code:
		bv := b.(Code)
		return av.Lang == bv.Lang && av.Source == bv.Source && ValueEqual(av.Out, bv.Out)
	}
	return false
}
