// Package optim abstracts derivative-free minimisation behind the Minimizer interface
// so callers construct objectives and fallback policies independently of the algorithm.
//
// NelderMead is the default implementation, backed by gonum's optimize package.
package optim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// ErrBudgetExhausted reports that the minimiser stopped on its evaluation or iteration
// budget before the tolerances were met. The accompanying Optimum is still the best
// point found.
var ErrBudgetExhausted = errors.New("optimisation budget exhausted")

// Objective is a scalar function of the parameter vector. It must not retain x.
type Objective func(x []float64) float64

// Problem describes one minimisation.
type Problem struct {
	Func Objective
	Seed []float64
	// Step is the initial simplex edge for each parameter. A nil Step uses 5% of each
	// non-zero seed component and 0.00025 for zero components.
	Step []float64
}

// Tolerance controls convergence. The search stops when, over Window consecutive
// iterations, the best point moves less than X and the best value improves less than F.
type Tolerance struct {
	X              float64
	F              float64
	Window         int
	MaxEvaluations int
}

// Optimum is the best point found.
type Optimum struct {
	X           []float64
	F           float64
	Evaluations int
	Iterations  int
	Converged   bool
}

// Minimizer minimises a Problem to the given Tolerance.
type Minimizer interface {
	Minimize(p Problem, tol Tolerance) (Optimum, error)
}

// NelderMead is a downhill-simplex Minimizer.
type NelderMead struct{}

// Minimize runs the simplex search in step-scaled coordinates u, x = seed + step*u,
// starting from u = 0 with a unit simplex.
func (NelderMead) Minimize(p Problem, tol Tolerance) (Optimum, error) {
	dim := len(p.Seed)
	if dim == 0 || p.Func == nil {
		return Optimum{}, fmt.Errorf("optim: empty problem")
	}
	step := p.Step
	if step == nil {
		step = defaultStep(p.Seed)
	}
	if len(step) != dim {
		return Optimum{}, fmt.Errorf("optim: step has %d entries, seed has %d", len(step), dim)
	}

	toX := func(u []float64, dst []float64) []float64 {
		for i := range u {
			dst[i] = p.Seed[i] + step[i]*u[i]
		}
		return dst
	}
	buf := make([]float64, dim)
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			f := p.Func(toX(u, buf))
			if math.IsNaN(f) {
				return math.MaxFloat64
			}
			return f
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: tol.MaxEvaluations,
		Converger: &simplexConverge{
			xtol:   tol.X,
			ftol:   tol.F,
			window: tol.Window,
			step:   step,
		},
	}

	u0 := make([]float64, dim)
	result, err := optimize.Minimize(problem, u0, settings, &optimize.NelderMead{SimplexSize: 1})
	if result == nil {
		return Optimum{}, fmt.Errorf("optim: nelder-mead: %w", err)
	}

	opt := Optimum{
		X:           toX(result.X, make([]float64, dim)),
		F:           result.F,
		Evaluations: result.FuncEvaluations,
		Iterations:  result.MajorIterations,
		Converged:   result.Status == optimize.FunctionConvergence,
	}
	switch result.Status {
	case optimize.FunctionEvaluationLimit, optimize.IterationLimit, optimize.RuntimeLimit:
		return opt, ErrBudgetExhausted
	}
	if err != nil {
		return opt, fmt.Errorf("optim: nelder-mead: %w", err)
	}
	return opt, nil
}

func defaultStep(seed []float64) []float64 {
	step := make([]float64, len(seed))
	for i, s := range seed {
		if s != 0 {
			step[i] = 0.05 * math.Abs(s)
		} else {
			step[i] = 0.00025
		}
	}
	return step
}

// simplexConverge declares convergence when the best vertex has moved less than xtol
// (in parameter units) and its value has improved less than ftol for window
// consecutive major iterations.
type simplexConverge struct {
	xtol, ftol float64
	window     int
	step       []float64

	bestX  []float64
	bestF  float64
	stable int
}

func (c *simplexConverge) Init(dim int) {
	c.bestX = nil
	c.bestF = math.Inf(1)
	c.stable = 0
	if c.window <= 0 {
		c.window = 50
	}
}

func (c *simplexConverge) Converged(loc *optimize.Location) optimize.Status {
	if c.bestX == nil {
		c.bestX = append([]float64(nil), loc.X...)
		c.bestF = loc.F
		return optimize.NotTerminated
	}

	var moved float64
	for i, u := range loc.X {
		moved = math.Max(moved, math.Abs(u-c.bestX[i])*c.step[i])
	}
	improved := c.bestF - loc.F

	if moved <= c.xtol && improved <= c.ftol {
		c.stable++
	} else {
		c.stable = 0
	}
	copy(c.bestX, loc.X)
	c.bestF = loc.F

	if c.stable >= c.window {
		return optimize.FunctionConvergence
	}
	return optimize.NotTerminated
}
