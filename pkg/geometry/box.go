package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/pkg/optim"
)

// BoxFit is an oriented bounding box.
type BoxFit struct {
	Centre r3.Vec
	Volume float64
	Dims   [3]float64
	Axes   [3]Line3D // through Centre, one per box edge direction
}

// boxTolerance is tight enough for sub-millirad orientation on femur-sized boxes.
var boxTolerance = optim.Tolerance{X: 1e-6, F: 1e-6, Window: 30, MaxEvaluations: 2000}

// FitBox fits an oriented bounding box to points starting from the candidate axis
// triple. The axes are rotated about themselves by three angles chosen by minimizer to
// minimise the enclosed volume. Extents are measured from initialCentre; the returned
// centre is the mid-extent point in the fitted frame.
func FitBox(points []r3.Vec, initialCentre r3.Vec, candidateAxes [3]r3.Vec, minimizer optim.Minimizer) (BoxFit, error) {
	if len(points) < 4 {
		return BoxFit{}, fmt.Errorf("box fit needs 4 points, got %d: %w", len(points), ErrDegenerate)
	}
	axes, err := orthonormalise(candidateAxes)
	if err != nil {
		return BoxFit{}, err
	}

	frame := func(x []float64) [3]r3.Vec {
		rot := [3]r3.Rotation{
			r3.NewRotation(x[0], axes[0]),
			r3.NewRotation(x[1], axes[1]),
			r3.NewRotation(x[2], axes[2]),
		}
		var out [3]r3.Vec
		for i, a := range axes {
			out[i] = rot[2].Rotate(rot[1].Rotate(rot[0].Rotate(a)))
		}
		return out
	}
	extents := func(f [3]r3.Vec) (lo, hi [3]float64) {
		for i := range lo {
			lo[i], hi[i] = math.Inf(1), math.Inf(-1)
		}
		for _, p := range points {
			q := r3.Sub(p, initialCentre)
			for i, a := range f {
				t := r3.Dot(q, a)
				lo[i] = math.Min(lo[i], t)
				hi[i] = math.Max(hi[i], t)
			}
		}
		return lo, hi
	}
	volume := func(x []float64) float64 {
		lo, hi := extents(frame(x))
		return (hi[0] - lo[0]) * (hi[1] - lo[1]) * (hi[2] - lo[2])
	}

	opt, err := minimizer.Minimize(optim.Problem{
		Func: volume,
		Seed: []float64{0, 0, 0},
		Step: []float64{0.05, 0.05, 0.05},
	}, boxTolerance)
	if err != nil && opt.X == nil {
		return BoxFit{}, fmt.Errorf("box fit: %w", err)
	}

	f := frame(opt.X)
	lo, hi := extents(f)
	fit := BoxFit{Centre: initialCentre, Volume: 1}
	for i := range f {
		fit.Dims[i] = hi[i] - lo[i]
		fit.Volume *= fit.Dims[i]
		fit.Centre = r3.Add(fit.Centre, r3.Scale((hi[i]+lo[i])/2, f[i]))
	}
	if fit.Volume <= 0 {
		return BoxFit{}, fmt.Errorf("box fit on flat points: %w", ErrDegenerate)
	}
	for i := range f {
		fit.Axes[i] = Line3D{Dir: f[i], Point: fit.Centre}
	}
	return fit, nil
}

// orthonormalise applies Gram-Schmidt to the axis triple.
func orthonormalise(axes [3]r3.Vec) ([3]r3.Vec, error) {
	var out [3]r3.Vec
	for i, a := range axes {
		for j := 0; j < i; j++ {
			a = r3.Sub(a, r3.Scale(r3.Dot(a, out[j]), out[j]))
		}
		u, err := Unit(a)
		if err != nil {
			return out, fmt.Errorf("box axis %d: %w", i, err)
		}
		out[i] = u
	}
	return out, nil
}
