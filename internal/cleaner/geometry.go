package cleaner

import "math"

// rect is an axis-aligned rectangle in container coordinates.
type rect struct {
	x0, y0, x1, y1 float64
}

func rectFromCorners(ax, ay, bx, by float64) rect {
	return rect{
		x0: math.Min(ax, bx),
		y0: math.Min(ay, by),
		x1: math.Max(ax, bx),
		y1: math.Max(ay, by),
	}
}

func (a rect) overlaps(b rect) bool {
	return a.x0 <= b.x1 && b.x0 <= a.x1 && a.y0 <= b.y1 && b.y0 <= a.y1
}

func (a rect) expand(d float64) rect {
	return rect{x0: a.x0 - d, y0: a.y0 - d, x1: a.x1 + d, y1: a.y1 + d}
}

// matrix is a PDF transformation matrix [a b c d e f].
type matrix struct {
	a, b, c, d, e, f float64
}

func identityMatrix() matrix {
	return matrix{a: 1, d: 1}
}

// concat returns m applied before ctm, the semantics of the cm operator.
func (ctm matrix) concat(m matrix) matrix {
	return matrix{
		a: m.a*ctm.a + m.b*ctm.c,
		b: m.a*ctm.b + m.b*ctm.d,
		c: m.c*ctm.a + m.d*ctm.c,
		d: m.c*ctm.b + m.d*ctm.d,
		e: m.e*ctm.a + m.f*ctm.c + ctm.e,
		f: m.e*ctm.b + m.f*ctm.d + ctm.f,
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m.a*x + m.c*y + m.e, m.b*x + m.d*y + m.f
}

// unitSquareBounds is the bounding rectangle of the unit square under m.
// Image XObjects are drawn into the unit square, so this is the placement
// rectangle of a Do operation.
func (m matrix) unitSquareBounds() rect {
	x0, y0 := m.apply(0, 0)
	x1, y1 := m.apply(1, 0)
	x2, y2 := m.apply(0, 1)
	x3, y3 := m.apply(1, 1)
	return rect{
		x0: math.Min(math.Min(x0, x1), math.Min(x2, x3)),
		y0: math.Min(math.Min(y0, y1), math.Min(y2, y3)),
		x1: math.Max(math.Max(x0, x1), math.Max(x2, x3)),
		y1: math.Max(math.Max(y0, y1), math.Max(y2, y3)),
	}
}
