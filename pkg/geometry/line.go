package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// Line3D is an infinite line through Point with unit direction Dir.
// Parameter t in Eval is measured in length units along Dir.
type Line3D struct {
	Dir   r3.Vec
	Point r3.Vec
}

// NewLine3D normalises dir and returns the line through point.
func NewLine3D(dir, point r3.Vec) (Line3D, error) {
	u, err := Unit(dir)
	if err != nil {
		return Line3D{}, err
	}
	return Line3D{Dir: u, Point: point}, nil
}

// Eval returns the point at parameter t.
func (l Line3D) Eval(t float64) r3.Vec {
	return r3.Add(l.Point, r3.Scale(t, l.Dir))
}

// ClosestPoint returns the orthogonal projection of p on the line and its parameter.
func (l Line3D) ClosestPoint(p r3.Vec) (r3.Vec, float64) {
	t := r3.Dot(r3.Sub(p, l.Point), l.Dir)
	return l.Eval(t), t
}

// Distance returns the perpendicular distance from p to the line.
func (l Line3D) Distance(p r3.Vec) float64 {
	c, _ := l.ClosestPoint(p)
	return r3.Norm(r3.Sub(p, c))
}

// Project returns the line parameter of every point.
func (l Line3D) Project(points []r3.Vec) []float64 {
	ts := make([]float64, len(points))
	for i, p := range points {
		ts[i] = r3.Dot(r3.Sub(p, l.Point), l.Dir)
	}
	return ts
}

// Flip returns the same line with the direction reversed.
func (l Line3D) Flip() Line3D {
	return Line3D{Dir: r3.Scale(-1, l.Dir), Point: l.Point}
}

// FitLine3D fits a line to points by orthogonal least squares. The fitted direction is
// the principal eigenvector of the point covariance, oriented to agree with seed.Dir.
// The returned rmse is the root mean square perpendicular distance.
//
// Fewer than two distinct points yields ErrDegenerate. Collinear and planar clouds have
// a closed-form solution and are handled without iteration.
func FitLine3D(points []r3.Vec, seed Line3D) (Line3D, float64, error) {
	return FitLine3DWeighted(points, nil, seed)
}

// FitLine3DWeighted is FitLine3D with a non-negative weight per point, typically the
// surface area a sample stands for. nil weights fit every point equally.
func FitLine3DWeighted(points []r3.Vec, weights []float64, seed Line3D) (Line3D, float64, error) {
	if len(points) < 2 {
		return Line3D{}, 0, ErrDegenerate
	}
	if weights != nil {
		if len(weights) != len(points) {
			return Line3D{}, 0, fmt.Errorf("%d weights for %d points: %w", len(weights), len(points), ErrDegenerate)
		}
		sum := floats.Sum(weights)
		if floats.Min(weights) < 0 || sum <= 0 {
			return Line3D{}, 0, fmt.Errorf("line fit weights must be non-negative with a positive sum: %w", ErrDegenerate)
		}
		// stat normalises the weighted covariance by sum(w) - 1
		weights = floats.ScaleTo(make([]float64, len(weights)), float64(len(weights))/sum, weights)
	}
	vals, vecs, err := principalAxes(points, weights)
	if err != nil {
		return Line3D{}, 0, err
	}
	if vals[2] <= 0 {
		return Line3D{}, 0, ErrDegenerate
	}

	dir := vecs[2]
	if r3.Dot(dir, seed.Dir) < 0 {
		dir = r3.Scale(-1, dir)
	}
	line, err := NewLine3D(dir, WeightedCentroid(points, weights))
	if err != nil {
		return Line3D{}, 0, err
	}

	var sum, total float64
	for i, p := range points {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		d := line.Distance(p)
		sum += w * d * d
		total += w
	}
	return line, math.Sqrt(sum / total), nil
}
