// Package field defines the parametric geometric field consumed by the measurement
// engine and a Lagrange surface-mesh implementation of it.
//
// A field is a surface described by elements over shared nodes. Evaluating it at a
// Density produces the evaluation points (EP): a fixed parametric grid of points per
// element, concatenated in ascending element-id order.
package field

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Density is the number of samples along each parametric direction of an element.
type Density [2]int

// DefaultDensity is the EP density used for measurements.
var DefaultDensity = Density{20, 20}

// Validate rejects densities that cannot sample both element edges.
func (d Density) Validate() error {
	if d[0] < 2 || d[1] < 2 {
		return fmt.Errorf("density %v: each direction needs at least 2 samples", d)
	}
	return nil
}

// Range is a half-open interval [Start, End) of EP indices.
type Range struct {
	Start int
	End   int
}

// Len is the number of indices in the range.
func (r Range) Len() int { return r.End - r.Start }

// Indices expands the range.
func (r Range) Indices() []int {
	out := make([]int, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		out = append(out, i)
	}
	return out
}

// ElementPointMap maps an element id to the EP range produced by that element.
type ElementPointMap map[int]Range

// GeometricField is the surface model the measurement engine evaluates.
//
// Implementations must produce EP in ascending element-id order so that the ranges in
// an ElementPointMap index the slice returned by Evaluate at the same density.
type GeometricField interface {
	// ElementIDs returns element identifiers in ascending order.
	ElementIDs() []int
	// Evaluate samples every element at density d.
	Evaluate(d Density) ([]r3.Vec, error)
	// ElementPointIndexMap returns the EP ranges of the given elements at density d.
	// Unknown element ids are an error.
	ElementPointIndexMap(d Density, elementIDs []int) (ElementPointMap, error)
	// ElementArea returns the approximate surface area of an element.
	ElementArea(id int) (float64, bool)
	// NodeIDs returns node identifiers in ascending order.
	NodeIDs() []int
	// NodeCoordinates returns node coordinates in NodeIDs order.
	NodeCoordinates() []r3.Vec
	// Node returns the coordinates of a node.
	Node(id int) (r3.Vec, bool)
	// EvaluateNodeLoop samples the closed polyline through the given nodes with
	// perSegment points per segment.
	EvaluateNodeLoop(nodeIDs []int, perSegment int) ([]r3.Vec, error)
	// ApplyAffineTransform maps every node through a 3×4 or 4×4 homogeneous matrix.
	ApplyAffineTransform(m *mat.Dense) error
}
