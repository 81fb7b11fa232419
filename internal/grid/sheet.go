package grid

// SheetID uniquely identifies a sheet for the lifetime of a document.
// IDs are stable across renames; user-visible names are not.
type SheetID string

// DefaultColumnWidth and DefaultRowHeight are the sizes a column or row
// reverts to when its explicit size entry is removed.
const (
	DefaultColumnWidth = 100.0
	DefaultRowHeight   = 21.0
)

// Sheet is one grid page: sparse cell contents plus per-cell formatting
// and per-axis sizing. All maps are sparse - absent keys mean default.
//
// Sheets are mutated only through operations applied by the executor;
// nothing else holds a mutable reference.
type Sheet struct {
	ID          SheetID
	Name        string
	Order       int // position in the sheet bar
	cells       map[Pos]CellValue
	formats     map[Pos]*Format
	borders     map[Pos]Borders
	validations map[Pos]*Validation
	colWidths   map[int64]float64
	rowHeights  map[int64]float64
}

// NewSheet creates an empty sheet.
func NewSheet(id SheetID, name string, order int) *Sheet {
	return &Sheet{
		ID:          id,
		Name:        name,
		Order:       order,
		cells:       make(map[Pos]CellValue),
		formats:     make(map[Pos]*Format),
		borders:     make(map[Pos]Borders),
		validations: make(map[Pos]*Validation),
		colWidths:   make(map[int64]float64),
		rowHeights:  make(map[int64]float64),
	}
}

// Cell returns the value at p, Blank{} if the cell is empty.
func (s *Sheet) Cell(p Pos) CellValue {
	if v, ok := s.cells[p]; ok {
		return v
	}
	return Blank{}
}

// SetCell writes v at p. Writing Blank deletes the entry so the map
// stays sparse.
func (s *Sheet) SetCell(p Pos, v CellValue) {
	if v == nil || v.Kind() == KindBlank {
		delete(s.cells, p)
		return
	}
	s.cells[p] = v
}

// Format returns the format at p, nil if unset.
func (s *Sheet) Format(p Pos) *Format {
	return s.formats[p]
}

// SetFormat stores f at p, deleting the entry when f is empty.
func (s *Sheet) SetFormat(p Pos, f *Format) {
	if f.IsEmpty() {
		delete(s.formats, p)
		return
	}
	s.formats[p] = f
}

// Borders returns the border styles at p, nil if unset.
func (s *Sheet) Borders(p Pos) Borders {
	return s.borders[p]
}

// SetBorders stores b at p, deleting the entry when b is empty.
func (s *Sheet) SetBorders(p Pos, b Borders) {
	if len(b) == 0 {
		delete(s.borders, p)
		return
	}
	s.borders[p] = b
}

// Validation returns the validation rule at p, nil if unset.
func (s *Sheet) Validation(p Pos) *Validation {
	return s.validations[p]
}

// SetValidation stores v at p, deleting the entry when v is nil.
func (s *Sheet) SetValidation(p Pos, v *Validation) {
	if v == nil {
		delete(s.validations, p)
		return
	}
	s.validations[p] = v
}

// ColumnWidth returns the width of column x.
func (s *Sheet) ColumnWidth(x int64) float64 {
	if w, ok := s.colWidths[x]; ok {
		return w
	}
	return DefaultColumnWidth
}

// SetColumnWidth sizes column x, removing the entry at the default size.
func (s *Sheet) SetColumnWidth(x int64, w float64) {
	if w == DefaultColumnWidth {
		delete(s.colWidths, x)
		return
	}
	s.colWidths[x] = w
}

// RowHeight returns the height of row y.
func (s *Sheet) RowHeight(y int64) float64 {
	if h, ok := s.rowHeights[y]; ok {
		return h
	}
	return DefaultRowHeight
}

// SetRowHeight sizes row y, removing the entry at the default size.
func (s *Sheet) SetRowHeight(y int64, h float64) {
	if h == DefaultRowHeight {
		delete(s.rowHeights, y)
		return
	}
	s.rowHeights[y] = h
}

// CellCount returns the number of non-blank cells. Used by tests and the
// CLI inspector.
func (s *Sheet) CellCount() int {
	return len(s.cells)
}

// EachCell visits every non-blank cell. Iteration order is unspecified;
// callers needing determinism must sort.
func (s *Sheet) EachCell(fn func(Pos, CellValue)) {
	for p, v := range s.cells {
		fn(p, v)
	}
}

// EachFormat visits every explicitly formatted position, including
// positions whose cell is blank.
func (s *Sheet) EachFormat(fn func(Pos, *Format)) {
	for p, f := range s.formats {
		fn(p, f)
	}
}

// EachBorders visits every position with explicit border styles.
func (s *Sheet) EachBorders(fn func(Pos, Borders)) {
	for p, b := range s.borders {
		fn(p, b)
	}
}

// EachValidation visits every position with a validation rule.
func (s *Sheet) EachValidation(fn func(Pos, *Validation)) {
	for p, v := range s.validations {
		fn(p, v)
	}
}

// EachColumnWidth visits every explicitly sized column.
func (s *Sheet) EachColumnWidth(fn func(int64, float64)) {
	for x, w := range s.colWidths {
		fn(x, w)
	}
}

// EachRowHeight visits every explicitly sized row.
func (s *Sheet) EachRowHeight(fn func(int64, float64)) {
	for y, h := range s.rowHeights {
		fn(y, h)
	}
}

// Clone returns a deep copy of the sheet. Used when a DeleteSheet
// operation captures the full contents for its reverse.
func (s *Sheet) Clone() *Sheet {
	c := NewSheet(s.ID, s.Name, s.Order)
	for p, v := range s.cells {
		c.cells[p] = v // CellValues are immutable
	}
	for p, f := range s.formats {
		c.formats[p] = f.Clone()
	}
	for p, b := range s.borders {
		c.borders[p] = b.Clone()
	}
	for p, v := range s.validations {
		c.validations[p] = v.Clone()
	}
	for x, w := range s.colWidths {
		c.colWidths[x] = w
	}
	for y, h := range s.rowHeights {
		c.rowHeights[y] = h
	}
	return c
}

// Equal reports observable equality of two sheets: same id, name, cells,
// formats, borders, validations, and sizing.
func (s *Sheet) Equal(o *Sheet) bool {
	if s.ID != o.ID || s.Name != o.Name {
		return false
	}
	if len(s.cells) != len(o.cells) || len(s.formats) != len(o.formats) ||
		len(s.borders) != len(o.borders) || len(s.validations) != len(o.validations) ||
		len(s.colWidths) != len(o.colWidths) || len(s.rowHeights) != len(o.rowHeights) {
		return false
	}
	for p, v := range s.cells {
		if !ValueEqual(v, o.Cell(p)) {
			return false
		}
	}
	for p, f := range s.formats {
		if !FormatEqual(f, o.Format(p)) {
			return false
		}
	}
	for p, b := range s.borders {
		ob := o.Borders(p)
		if len(b) != len(ob) {
			return false
		}
		for line, style := range b {
			if ob[line] != style {
				return false
			}
		}
	}
	for x, w := range s.colWidths {
		if o.ColumnWidth(x) != w {
			return false
		}
	}
	for y, h := range s.rowHeights {
		if o.RowHeight(y) != h {
			return false
		}
	}
	return true
}
