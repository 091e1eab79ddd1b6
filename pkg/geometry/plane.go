package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Plane is the set of points x with Normal·x + D() = 0.
//
// X and Y are orthonormal in-plane axes used by Project2D. NewPlane derives them from
// the normal: X = unit(Normal × e1) (e2 when the normal is parallel to e1) and
// Y = unit(Normal × X).
type Plane struct {
	Normal r3.Vec
	Point  r3.Vec
	X      r3.Vec
	Y      r3.Vec
}

// NewPlane returns the plane through point with the given normal. The normal is
// normalised; a zero normal yields ErrDegenerate.
func NewPlane(normal, point r3.Vec) (Plane, error) {
	n, err := Unit(normal)
	if err != nil {
		return Plane{}, err
	}

	ref := r3.Vec{X: 1}
	if math.Abs(r3.Dot(n, ref)) > 1-1e-9 {
		ref = r3.Vec{Y: 1}
	}
	x, err := Unit(r3.Cross(n, ref))
	if err != nil {
		return Plane{}, err
	}
	y, err := Unit(r3.Cross(n, x))
	if err != nil {
		return Plane{}, err
	}
	return Plane{Normal: n, Point: point, X: x, Y: y}, nil
}

// D is the scalar offset of the implicit plane equation.
func (p Plane) D() float64 {
	return -r3.Dot(p.Normal, p.Point)
}

// SignedDistance returns the signed distance of q from the plane, positive on the
// side the normal points to.
func (p Plane) SignedDistance(q r3.Vec) float64 {
	return r3.Dot(p.Normal, q) + p.D()
}

// DistanceToPoints returns the signed distance of every point from the plane and its
// orthogonal projection onto the plane.
func (p Plane) DistanceToPoints(points []r3.Vec) ([]float64, []r3.Vec) {
	d := p.D()
	dist := make([]float64, len(points))
	proj := make([]r3.Vec, len(points))
	for i, q := range points {
		s := r3.Dot(p.Normal, q) + d
		dist[i] = s
		proj[i] = r3.Sub(q, r3.Scale(s, p.Normal))
	}
	return dist, proj
}

// ProjectClosePoints projects every point closer than maxDist to the plane and returns
// the projections with the indices of the selected points.
func (p Plane) ProjectClosePoints(points []r3.Vec, maxDist float64) ([]r3.Vec, []int) {
	d := p.D()
	var proj []r3.Vec
	var idx []int
	for i, q := range points {
		s := r3.Dot(p.Normal, q) + d
		if math.Abs(s) < maxDist {
			proj = append(proj, r3.Sub(q, r3.Scale(s, p.Normal)))
			idx = append(idx, i)
		}
	}
	return proj, idx
}

// Project2D returns the coordinates of v along the in-plane X and Y axes. v is treated
// as a direction: the plane point is not subtracted.
func (p Plane) Project2D(v r3.Vec) [2]float64 {
	return [2]float64{r3.Dot(v, p.X), r3.Dot(v, p.Y)}
}
