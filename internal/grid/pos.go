package grid

import "fmt"

// Pos is an absolute cell coordinate within one sheet.
// X is the column, Y is the row, both 1-based.
type Pos struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// String returns "(x,y)" for logs and error messages.
func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// SheetPos is a cell coordinate qualified with its sheet.
type SheetPos struct {
	SheetID SheetID `json:"sheet_id"`
	Pos     Pos     `json:"pos"`
}

// String returns "sheet:(x,y)".
func (sp SheetPos) String() string {
	return fmt.Sprintf("%s:%s", sp.SheetID, sp.Pos)
}

// Rect is an inclusive rectangle of cells. Min and Max are corners with
// Min.X <= Max.X and Min.Y <= Max.Y.
type Rect struct {
	Min Pos `json:"min"`
	Max Pos `json:"max"`
}

// NewRect returns the rectangle spanning two corners in any order.
func NewRect(a, b Pos) Rect {
	r := Rect{Min: a, Max: b}
	if r.Min.X > r.Max.X {
		r.Min.X, r.Max.X = r.Max.X, r.Min.X
	}
	if r.Min.Y > r.Max.Y {
		r.Min.Y, r.Max.Y = r.Max.Y, r.Min.Y
	}
	return r
}

// RectAt returns the single-cell rectangle covering p.
func RectAt(p Pos) Rect {
	return Rect{Min: p, Max: p}
}

// Contains reports whether p falls inside the rectangle.
func (r Rect) Contains(p Pos) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Intersects reports whether the two rectangles share at least one cell.
func (r Rect) Intersects(o Rect) bool {
	return r.Min.X <= o.Max.X && r.Max.X >= o.Min.X &&
		r.Min.Y <= o.Max.Y && r.Max.Y >= o.Min.Y
}

// Union returns the smallest rectangle covering both r and o.
func (r Rect) Union(o Rect) Rect {
	u := r
	if o.Min.X < u.Min.X {
		u.Min.X = o.Min.X
	}
	if o.Min.Y < u.Min.Y {
		u.Min.Y = o.Min.Y
	}
	if o.Max.X > u.Max.X {
		u.Max.X = o.Max.X
	}
	if o.Max.Y > u.Max.Y {
		u.Max.Y = o.Max.Y
	}
	return u
}

// SheetRect is a rectangle qualified with its sheet.
type SheetRect struct {
	SheetID SheetID `json:"sheet_id"`
	Rect    Rect    `json:"rect"`
}

// SheetRectAt returns the single-cell sheet rectangle covering p.
func SheetRectAt(sp SheetPos) SheetRect {
	return SheetRect{SheetID: sp.SheetID, Rect: RectAt(sp.Pos)}
}

// Intersects reports whether two sheet rectangles overlap. Rectangles on
// different sheets never intersect.
func (sr SheetRect) Intersects(o SheetRect) bool {
	return sr.SheetID == o.SheetID && sr.Rect.Intersects(o.Rect)
}
