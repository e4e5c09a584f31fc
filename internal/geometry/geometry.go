// Package geometry provides the planar collision primitives used by the sensor model.
package geometry

import "math"

// Rect is an axis-aligned rectangle described by its centre and full extents.
type Rect struct {
	CenterX float64
	CenterY float64
	Width   float64
	Height  float64
}

// Bounds returns the inclusive min/max corners of the rectangle.
func (r Rect) Bounds() (minX, minY, maxX, maxY float64) {
	halfW := r.Width / 2
	halfH := r.Height / 2
	return r.CenterX - halfW, r.CenterY - halfH, r.CenterX + halfW, r.CenterY + halfH
}

// Square builds the axis-aligned square of the given half size centred on (x, y).
func Square(x, y, halfSize float64) Rect {
	return Rect{CenterX: x, CenterY: y, Width: halfSize * 2, Height: halfSize * 2}
}

// Circle describes a disc in the arena plane.
type Circle struct {
	CenterX float64
	CenterY float64
	Radius  float64
}

// PointToRectDistance returns the Euclidean distance from a point to the closest point of
// the rectangle. Points inside or on the boundary report zero.
func PointToRectDistance(px, py float64, rect Rect) float64 {
	minX, minY, maxX, maxY := rect.Bounds()
	//1.- Clamp the per-axis gap at zero so interior coordinates contribute nothing.
	dx := math.Max(math.Max(minX-px, 0), px-maxX)
	dy := math.Max(math.Max(minY-py, 0), py-maxY)
	//2.- Combine the gaps into the straight-line distance to the box.
	return math.Sqrt(dx*dx + dy*dy)
}

// PointInRect reports whether the point lies inside the rectangle, edges included.
func PointInRect(px, py float64, rect Rect) bool {
	minX, minY, maxX, maxY := rect.Bounds()
	return px >= minX && px <= maxX && py >= minY && py <= maxY
}

// Distance returns the Euclidean distance between two points.
func Distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// CirclesOverlap reports whether two circles touch or intersect.
func CirclesOverlap(c1 Circle, c2 Circle) bool {
	return Distance(c1.CenterX, c1.CenterY, c2.CenterX, c2.CenterY) <= c1.Radius+c2.Radius
}

// RectsOverlap applies the inclusive AABB overlap test on both axes.
func RectsOverlap(a, b Rect) bool {
	aMinX, aMinY, aMaxX, aMaxY := a.Bounds()
	bMinX, bMinY, bMaxX, bMaxY := b.Bounds()
	return aMaxX >= bMinX && aMinX <= bMaxX && aMaxY >= bMinY && aMinY <= bMaxY
}
