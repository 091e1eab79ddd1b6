package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// SphereFit is the result of FitSphere.
type SphereFit struct {
	Centre r3.Vec
	Radius float64
	// RMSE is the root mean square of |p - Centre| - Radius over the fitted points.
	RMSE float64
}

// CircleFit is the result of FitCircle3D.
type CircleFit struct {
	Centre r3.Vec
	Normal r3.Vec // normal of the best-fit plane of the points
	Radius float64
	RMSE   float64
}

// FitSphere fits a sphere to points by algebraic least squares:
//
//	x*A + y*B + z*C + D = -(x^2 + y^2 + z^2),  centre = -(A, B, C)/2
//
// solved with a QR decomposition. Fewer than four points, clouds without extent in
// all three dimensions, or a non-positive squared radius yield ErrDegenerate.
func FitSphere(points []r3.Vec) (SphereFit, error) {
	n := len(points)
	if n < 4 {
		return SphereFit{}, fmt.Errorf("sphere fit needs 4 points, got %d: %w", n, ErrDegenerate)
	}
	vals, _, err := principalAxes(points, nil)
	if err != nil {
		return SphereFit{}, err
	}
	if vals[2] <= 0 || vals[0]/vals[2] < degenerateRatio {
		return SphereFit{}, fmt.Errorf("sphere fit on coplanar points: %w", ErrDegenerate)
	}

	// Centre the cloud to keep the normal equations well conditioned.
	c0 := Centroid(points)
	a := mat.NewDense(n, 4, nil)
	b := mat.NewVecDense(n, nil)
	for i, p := range points {
		q := r3.Sub(p, c0)
		a.Set(i, 0, q.X)
		a.Set(i, 1, q.Y)
		a.Set(i, 2, q.Z)
		a.Set(i, 3, 1)
		b.SetVec(i, -r3.Dot(q, q))
	}

	var qr mat.QR
	qr.Factorize(a)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return SphereFit{}, fmt.Errorf("sphere fit solve: %v: %w", err, ErrDegenerate)
	}

	centre := r3.Vec{X: -x.AtVec(0) / 2, Y: -x.AtVec(1) / 2, Z: -x.AtVec(2) / 2}
	r2 := r3.Dot(centre, centre) - x.AtVec(3)
	if r2 <= 0 || math.IsNaN(r2) {
		return SphereFit{}, fmt.Errorf("sphere fit radius^2 %g: %w", r2, ErrDegenerate)
	}
	radius := math.Sqrt(r2)

	var sum float64
	for _, p := range points {
		d := r3.Norm(r3.Sub(r3.Sub(p, c0), centre)) - radius
		sum += d * d
	}
	return SphereFit{
		Centre: r3.Add(centre, c0),
		Radius: radius,
		RMSE:   math.Sqrt(sum / float64(n)),
	}, nil
}

// FitCircle3D fits a circle to points lying approximately on a plane. The plane is the
// principal plane of the cloud; the circle is fitted algebraically in that plane.
func FitCircle3D(points []r3.Vec) (CircleFit, error) {
	n := len(points)
	if n < 3 {
		return CircleFit{}, fmt.Errorf("circle fit needs 3 points, got %d: %w", n, ErrDegenerate)
	}
	vals, vecs, err := principalAxes(points, nil)
	if err != nil {
		return CircleFit{}, err
	}
	if vals[2] <= 0 || vals[1]/vals[2] < degenerateRatio {
		return CircleFit{}, fmt.Errorf("circle fit on collinear points: %w", ErrDegenerate)
	}

	c0 := Centroid(points)
	u, v, normal := vecs[2], vecs[1], vecs[0]

	a := mat.NewDense(n, 3, nil)
	b := mat.NewVecDense(n, nil)
	for i, p := range points {
		q := r3.Sub(p, c0)
		x, y := r3.Dot(q, u), r3.Dot(q, v)
		a.Set(i, 0, x)
		a.Set(i, 1, y)
		a.Set(i, 2, 1)
		b.SetVec(i, -(x*x + y*y))
	}

	var qr mat.QR
	qr.Factorize(a)
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, b); err != nil {
		return CircleFit{}, fmt.Errorf("circle fit solve: %v: %w", err, ErrDegenerate)
	}

	cx, cy := -sol.AtVec(0)/2, -sol.AtVec(1)/2
	r2 := cx*cx + cy*cy - sol.AtVec(2)
	if r2 <= 0 || math.IsNaN(r2) {
		return CircleFit{}, fmt.Errorf("circle fit radius^2 %g: %w", r2, ErrDegenerate)
	}
	radius := math.Sqrt(r2)
	centre := r3.Add(c0, r3.Add(r3.Scale(cx, u), r3.Scale(cy, v)))

	var sum float64
	for _, p := range points {
		q := r3.Sub(p, centre)
		h := r3.Dot(q, normal)
		inPlane := math.Sqrt(math.Max(0, r3.Dot(q, q)-h*h))
		d := inPlane - radius
		sum += d*d + h*h
	}
	return CircleFit{
		Centre: centre,
		Normal: normal,
		Radius: radius,
		RMSE:   math.Sqrt(sum / float64(n)),
	}, nil
}
