package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectContains(t *testing.T) {
	r := NewRect(Pos{X: 1, Y: 1}, Pos{X: 3, Y: 3})

	assert.True(t, r.Contains(Pos{X: 1, Y: 1}))
	assert.True(t, r.Contains(Pos{X: 3, Y: 3}))
	assert.True(t, r.Contains(Pos{X: 2, Y: 2}))
	assert.False(t, r.Contains(Pos{X: 4, Y: 3}))
	assert.False(t, r.Contains(Pos{X: 0, Y: 1}))
}

func TestRectIntersects(t *testing.T) {
	a := NewRect(Pos{X: 1, Y: 1}, Pos{X: 3, Y: 3})

	assert.True(t, a.Intersects(NewRect(Pos{X: 3, Y: 3}, Pos{X: 5, Y: 5})))
	assert.True(t, a.Intersects(RectAt(Pos{X: 2, Y: 2})))
	assert.False(t, a.Intersects(NewRect(Pos{X: 4, Y: 1}, Pos{X: 5, Y: 3})))
	assert.False(t, a.Intersects(RectAt(Pos{X: 1, Y: 4})))
}

func TestRectUnion(t *testing.T) {
	a := RectAt(Pos{X: 1, Y: 1})
	b := RectAt(Pos{X: 3, Y: 2})

	u := a.Union(b)
	assert.Equal(t, NewRect(Pos{X: 1, Y: 1}, Pos{X: 3, Y: 2}), u)
}

func TestSheetRectIntersectsRequiresSameSheet(t *testing.T) {
	a := SheetRect{SheetID: "s1", Rect: RectAt(Pos{X: 1, Y: 1})}
	b := SheetRect{SheetID: "s2", Rect: RectAt(Pos{X: 1, Y: 1})}

	assert.False(t, a.Intersects(b))
	assert.True(t, a.Intersects(SheetRect{SheetID: "s1", Rect: RectAt(Pos{X: 1, Y: 1})}))
}
