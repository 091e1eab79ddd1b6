// Package geometry provides the geometric primitives used by the femur measurement
// engine: lines, planes, least-squares fits of lines, spheres, circles and boxes, and a
// nearest-point index over evaluation points.
//
// All functions are pure. Inputs are never modified.
package geometry

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// ErrDegenerate is returned when a point set cannot support the requested fit,
// for example a coplanar cloud passed to FitSphere or a zero-length direction.
var ErrDegenerate = errors.New("degenerate geometry")

// degenerateRatio is the smallest accepted ratio between two covariance eigenvalues
// before a point cloud is considered to have lost a dimension.
const degenerateRatio = 1e-9

// Centroid returns the arithmetic mean of points.
func Centroid(points []r3.Vec) r3.Vec {
	if len(points) == 0 {
		return r3.Vec{}
	}
	xs, ys, zs := columns(points)
	return r3.Vec{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}
}

// WeightedCentroid returns the weighted mean of points. nil weights give Centroid.
func WeightedCentroid(points []r3.Vec, weights []float64) r3.Vec {
	if len(points) == 0 {
		return r3.Vec{}
	}
	xs, ys, zs := columns(points)
	return r3.Vec{X: stat.Mean(xs, weights), Y: stat.Mean(ys, weights), Z: stat.Mean(zs, weights)}
}

// Unit returns v scaled to unit length, or ErrDegenerate for a zero vector.
func Unit(v r3.Vec) (r3.Vec, error) {
	n := r3.Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return r3.Vec{}, ErrDegenerate
	}
	return r3.Scale(1/n, v), nil
}

// Angle returns the unsigned angle between a and b in radians.
func Angle(a, b r3.Vec) float64 {
	den := r3.Norm(a) * r3.Norm(b)
	if den == 0 {
		return math.NaN()
	}
	c := r3.Dot(a, b) / den
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// SignedAngle2D returns the angle from a to b in radians, positive counter-clockwise.
func SignedAngle2D(a, b [2]float64) float64 {
	cross := a[0]*b[1] - a[1]*b[0]
	dot := a[0]*b[0] + a[1]*b[1]
	return math.Atan2(cross, dot)
}

// Distance is the Euclidean distance between a and b.
func Distance(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}

func columns(points []r3.Vec) (xs, ys, zs []float64) {
	xs = make([]float64, len(points))
	ys = make([]float64, len(points))
	zs = make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return xs, ys, zs
}

// principalAxes returns the covariance eigenvalues of points in ascending order and the
// matching unit eigenvectors. weights may be nil.
func principalAxes(points []r3.Vec, weights []float64) ([3]float64, [3]r3.Vec, error) {
	var vals [3]float64
	var vecs [3]r3.Vec
	if len(points) < 2 {
		return vals, vecs, ErrDegenerate
	}

	data := mat.NewDense(len(points), 3, nil)
	for i, p := range points {
		data.Set(i, 0, p.X)
		data.Set(i, 1, p.Y)
		data.Set(i, 2, p.Z)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, weights)

	var eig mat.EigenSym
	if ok := eig.Factorize(&cov, true); !ok {
		return vals, vecs, ErrDegenerate
	}
	values := eig.Values(nil)
	var v mat.Dense
	eig.VectorsTo(&v)

	for i := 0; i < 3; i++ {
		vals[i] = values[i]
		vecs[i] = r3.Vec{X: v.At(0, i), Y: v.At(1, i), Z: v.At(2, i)}
	}
	return vals, vecs, nil
}
