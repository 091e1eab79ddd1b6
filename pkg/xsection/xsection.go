// Package xsection locates the minimal cross-section of a tubular point cloud, such as
// the femoral neck, by searching over cutting planes.
//
// A plane's footprint is the set of data points closer to it than the acceptance
// distance, projected onto it. The search minimises the mean footprint radius about the
// plane point plus the eccentricity of that point from the footprint centroid.
package xsection

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/pkg/geometry"
	"femurmeasure/pkg/optim"
)

var (
	// ErrEmptyFootprint is returned when the optimal plane selects no data points.
	ErrEmptyFootprint = errors.New("cross-section footprint is empty")
	// ErrConvergence is returned when the minimiser fails outright.
	ErrConvergence = errors.New("cross-section search did not converge")
)

// emptyPenalty is added to the objective of planes with an empty footprint.
const emptyPenalty = 1e6

// Options tunes the search.
type Options struct {
	// AcceptanceDistance is the plane half-thickness used to select footprint points.
	AcceptanceDistance float64
	// Free controls the six-parameter search over plane point and normal.
	Free optim.Tolerance
	// Line controls the one-parameter search along a segment.
	Line optim.Tolerance
	// PointStep and NormalStep are the initial simplex edges of the free search.
	PointStep  float64
	NormalStep float64
	// LineStep is the initial simplex edge of the line search in segment units.
	LineStep float64
}

// DefaultOptions returns the options used for femoral neck measurement.
func DefaultOptions() Options {
	return Options{
		AcceptanceDistance: 1.0,
		Free:               optim.Tolerance{X: 1e-6, F: 1e-6, Window: 30, MaxEvaluations: 6000},
		Line:               optim.Tolerance{X: 1e-3, F: 1e-3, Window: 10, MaxEvaluations: 500},
		PointStep:          1.0,
		NormalStep:         0.1,
		LineStep:           0.1,
	}
}

// Section is an optimal cutting plane.
type Section struct {
	Plane geometry.Plane
	// Footprint holds the projected data points, Indices their positions in the data.
	Footprint []r3.Vec
	Indices   []int
	// MeanRadius is the mean distance of the footprint from the plane point.
	MeanRadius float64
	Objective  float64
	// T is the segment parameter of the plane point for line searches.
	T float64
	// Converged is false when the minimiser stopped on its budget.
	Converged bool
	// FellBack reports that Search returned the line result because the free search
	// ended on an empty footprint.
	FellBack bool
}

// Finder searches for minimal cross-sections of a fixed point cloud.
type Finder struct {
	data      []r3.Vec
	centroid  r3.Vec
	opts      Options
	minimizer optim.Minimizer
}

// NewFinder returns a Finder over data. A nil minimizer uses optim.NelderMead.
func NewFinder(data []r3.Vec, opts Options, minimizer optim.Minimizer) (*Finder, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("xsection: no data points")
	}
	if opts.AcceptanceDistance <= 0 {
		return nil, fmt.Errorf("xsection: acceptance distance must be positive, got %g", opts.AcceptanceDistance)
	}
	if minimizer == nil {
		minimizer = optim.NelderMead{}
	}
	return &Finder{
		data:      data,
		centroid:  geometry.Centroid(data),
		opts:      opts,
		minimizer: minimizer,
	}, nil
}

// Objective scores the plane through p with normal n. Planes with a zero normal or an
// empty footprint score 1e6 plus the distance of p from the data centroid so the
// minimiser is steered back towards the data.
func (f *Finder) Objective(p, n r3.Vec) float64 {
	plane, err := geometry.NewPlane(n, p)
	if err != nil {
		return emptyPenalty + geometry.Distance(p, f.centroid)
	}
	proj, _ := plane.ProjectClosePoints(f.data, f.opts.AcceptanceDistance)
	if len(proj) == 0 {
		return emptyPenalty + geometry.Distance(p, f.centroid)
	}
	meanR, ecc := footprintStats(p, proj)
	return meanR + ecc
}

// FindNeckMin minimises the objective over plane point and normal starting from the
// plane through seedP with normal seedN.
func (f *Finder) FindNeckMin(seedP, seedN r3.Vec) (Section, error) {
	n0, err := geometry.Unit(seedN)
	if err != nil {
		return Section{}, fmt.Errorf("xsection: seed normal: %w", err)
	}

	ps, ns := f.opts.PointStep, f.opts.NormalStep
	prob := optim.Problem{
		Func: func(x []float64) float64 {
			return f.Objective(r3.Vec{X: x[0], Y: x[1], Z: x[2]}, r3.Vec{X: x[3], Y: x[4], Z: x[5]})
		},
		Seed: []float64{seedP.X, seedP.Y, seedP.Z, n0.X, n0.Y, n0.Z},
		Step: []float64{ps, ps, ps, ns, ns, ns},
	}
	opt, converged, err := f.minimize(prob, f.opts.Free)
	if err != nil {
		return Section{}, err
	}

	p := r3.Vec{X: opt.X[0], Y: opt.X[1], Z: opt.X[2]}
	n := r3.Vec{X: opt.X[3], Y: opt.X[4], Z: opt.X[5]}
	s, err := f.section(p, n)
	if err != nil {
		return Section{}, err
	}
	s.Converged = converged
	return s, nil
}

// FindNeckMinAlongLine minimises the objective over planes normal to the segment p0-p1
// whose point lies on the segment, starting from parameter t0. t is clamped to [0, 1].
func (f *Finder) FindNeckMinAlongLine(p0, p1 r3.Vec, t0 float64) (Section, error) {
	seg := r3.Sub(p1, p0)
	n, err := geometry.Unit(seg)
	if err != nil {
		return Section{}, fmt.Errorf("xsection: search segment: %w", err)
	}
	at := func(t float64) r3.Vec {
		return r3.Add(p0, r3.Scale(clamp01(t), seg))
	}

	prob := optim.Problem{
		Func: func(x []float64) float64 {
			return f.Objective(at(x[0]), n)
		},
		Seed: []float64{clamp01(t0)},
		Step: []float64{f.opts.LineStep},
	}
	opt, converged, err := f.minimize(prob, f.opts.Line)
	if err != nil {
		return Section{}, err
	}

	t := clamp01(opt.X[0])
	s, err := f.section(at(t), n)
	if err != nil {
		return Section{}, err
	}
	s.T = t
	s.Converged = converged
	return s, nil
}

// Search runs the line search from t0 and refines its optimum with a free search seeded
// at the line optimum and the segment direction. If the free search ends on an empty
// footprint or its minimiser fails, the line result is returned with FellBack set.
func (f *Finder) Search(p0, p1 r3.Vec, t0 float64) (Section, error) {
	line, err := f.FindNeckMinAlongLine(p0, p1, t0)
	if err != nil {
		return Section{}, err
	}

	free, err := f.FindNeckMin(line.Plane.Point, line.Plane.Normal)
	if errors.Is(err, ErrEmptyFootprint) || errors.Is(err, ErrConvergence) {
		line.FellBack = true
		return line, nil
	}
	if err != nil {
		return Section{}, err
	}
	free.T = line.T
	return free, nil
}

func (f *Finder) minimize(p optim.Problem, tol optim.Tolerance) (optim.Optimum, bool, error) {
	opt, err := f.minimizer.Minimize(p, tol)
	switch {
	case err == nil:
		return opt, true, nil
	case errors.Is(err, optim.ErrBudgetExhausted):
		return opt, false, nil
	default:
		return optim.Optimum{}, false, fmt.Errorf("%w: %v", ErrConvergence, err)
	}
}

func (f *Finder) section(p, n r3.Vec) (Section, error) {
	plane, err := geometry.NewPlane(n, p)
	if err != nil {
		return Section{}, ErrEmptyFootprint
	}
	proj, idx := plane.ProjectClosePoints(f.data, f.opts.AcceptanceDistance)
	if len(proj) == 0 {
		return Section{}, ErrEmptyFootprint
	}
	meanR, ecc := footprintStats(p, proj)
	return Section{
		Plane:      plane,
		Footprint:  proj,
		Indices:    idx,
		MeanRadius: meanR,
		Objective:  meanR + ecc,
	}, nil
}

func footprintStats(p r3.Vec, proj []r3.Vec) (meanR, ecc float64) {
	for _, q := range proj {
		meanR += geometry.Distance(q, p)
	}
	meanR /= float64(len(proj))
	return meanR, geometry.Distance(p, geometry.Centroid(proj))
}

func clamp01(t float64) float64 {
	return math.Max(0, math.Min(1, t))
}
