package grid

// Format holds the visual formatting of one cell. Nil pointer fields are
// "unset" and inherit the default; this lets a format patch carry only
// the attributes it changes.
type Format struct {
	Bold          *bool   `json:"bold,omitempty"`
	Italic        *bool   `json:"italic,omitempty"`
	Align         *string `json:"align,omitempty"`
	NumericFormat *string `json:"numeric_format,omitempty"`
	TextColor     *string `json:"text_color,omitempty"`
	FillColor     *string `json:"fill_color,omitempty"`
}

// IsEmpty reports whether no attribute is set.
func (f *Format) IsEmpty() bool {
	return f == nil || (f.Bold == nil && f.Italic == nil && f.Align == nil &&
		f.NumericFormat == nil && f.TextColor == nil && f.FillColor == nil)
}

// Clone returns a deep copy. Clone of nil is nil.
func (f *Format) Clone() *Format {
	if f == nil {
		return nil
	}
	c := &Format{}
	c.Bold = cloneBool(f.Bold)
	c.Italic = cloneBool(f.Italic)
	c.Align = cloneString(f.Align)
	c.NumericFormat = cloneString(f.NumericFormat)
	c.TextColor = cloneString(f.TextColor)
	c.FillColor = cloneString(f.FillColor)
	return c
}

// Merge overlays patch onto f and returns the result. Attributes set in
// the patch win; unset patch attributes keep f's value. Neither input is
// mutated.
func (f *Format) Merge(patch *Format) *Format {
	if patch.IsEmpty() {
		return f.Clone()
	}
	out := f.Clone()
	if out == nil {
		out = &Format{}
	}
	if patch.Bold != nil {
		out.Bold = cloneBool(patch.Bold)
	}
	if patch.Italic != nil {
		out.Italic = cloneBool(patch.Italic)
	}
	if patch.Align != nil {
		out.Align = cloneString(patch.Align)
	}
	if patch.NumericFormat != nil {
		out.NumericFormat = cloneString(patch.NumericFormat)
	}
	if patch.TextColor != nil {
		out.TextColor = cloneString(patch.TextColor)
	}
	if patch.FillColor != nil {
		out.FillColor = cloneString(patch.FillColor)
	}
	return out
}

// FormatEqual reports attribute-wise equality, treating nil and empty
// formats as equal.
func FormatEqual(a, b *Format) bool {
	if a.IsEmpty() && b.IsEmpty() {
		return true
	}
	if a.IsEmpty() != b.IsEmpty() {
		return false
	}
	return boolEq(a.Bold, b.Bold) && boolEq(a.Italic, b.Italic) &&
		strEq(a.Align, b.Align) && strEq(a.NumericFormat, b.NumericFormat) &&
		strEq(a.TextColor, b.TextColor) && strEq(a.FillColor, b.FillColor)
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func boolEq(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// BorderLine identifies which edge of a cell a border style applies to.
type BorderLine string

const (
	BorderTop    BorderLine = "top"
	BorderBottom BorderLine = "bottom"
	BorderLeft   BorderLine = "left"
	BorderRight  BorderLine = "right"
)

// BorderStyle describes one cell edge: line kind plus color.
type BorderStyle struct {
	Line  string `json:"line"` // "thin", "medium", "thick", "dashed", "dotted"
	Color string `json:"color"`
}

// Borders maps cell edges to styles for one cell. A missing entry means
// no border on that edge.
type Borders map[BorderLine]BorderStyle

// Clone returns a copy. Clone of an empty map is nil.
func (b Borders) Clone() Borders {
	if len(b) == 0 {
		return nil
	}
	c := make(Borders, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

// ValidationRule constrains what values a cell accepts.
type ValidationRule string

const (
	// ValidationList restricts the cell to an enumerated set of values.
	ValidationList ValidationRule = "list"
	// ValidationRange restricts a numeric cell to [Min, Max].
	ValidationRange ValidationRule = "range"
)

// Validation is a data-validation rule attached to a cell range.
type Validation struct {
	Rule    ValidationRule `json:"rule"`
	Values  []string       `json:"values,omitempty"` // list rule
	Min     float64        `json:"min,omitempty"`    // range rule
	Max     float64        `json:"max,omitempty"`    // range rule
	Message string         `json:"message,omitempty"`
}

// Clone returns a deep copy. Clone of nil is nil.
func (v *Validation) Clone() *Validation {
	if v == nil {
		return nil
	}
	c := *v
	if v.Values != nil {
		c.Values = append([]string(nil), v.Values...)
	}
	return &c
}
