package measure

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/internal/models"
	"femurmeasure/pkg/geometry"
)

// epicondylarWidthByNode measures between the condyle alignment nodes and records the
// EP closest to each.
func (e *Engine) epicondylarWidthByNode(m *models.Measurement) error {
	p1, p2, err := e.alignmentNodes()
	if err != nil {
		return err
	}
	if e.epIndex == nil {
		e.epIndex = geometry.NewPointIndex(e.ep)
	}
	i1, _ := e.epIndex.Nearest(p1)
	i2, _ := e.epIndex.Nearest(p2)

	setEpicondylar(m, p1, p2)
	m.SetIndex("p1", i1)
	m.SetIndex("p2", i2)
	return nil
}

// epicondylarWidthCaliper takes the medial epicondyle point furthest along the frame
// x axis and the lateral point furthest against it.
func (e *Engine) epicondylarWidthCaliper(m *models.Measurement) error {
	f, err := e.requireFrame()
	if err != nil {
		return err
	}
	medial, lateral, err := e.epicondyles()
	if err != nil {
		return err
	}

	mx := frameCoords(f, f.X, medial.points)
	lx := frameCoords(f, f.X, lateral.points)
	mi, li := floats.MaxIdx(mx), floats.MinIdx(lx)

	setEpicondylar(m, medial.points[mi], lateral.points[li])
	m.SetIndex("p1", medial.indices[mi])
	m.SetIndex("p2", lateral.indices[li])
	return nil
}

// epicondylarWidthDistance is the largest distance between a medial and a lateral
// epicondyle point.
func (e *Engine) epicondylarWidthDistance(m *models.Measurement) error {
	if _, err := e.requireFrame(); err != nil {
		return err
	}
	medial, lateral, err := e.epicondyles()
	if err != nil {
		return err
	}

	best, mi, li := -1.0, 0, 0
	for i, p := range medial.points {
		for j, q := range lateral.points {
			if d := r3.Norm2(r3.Sub(p, q)); d > best {
				best, mi, li = d, i, j
			}
		}
	}

	setEpicondylar(m, medial.points[mi], lateral.points[li])
	m.SetIndex("p1", medial.indices[mi])
	m.SetIndex("p2", lateral.indices[li])
	return nil
}

// epicondylarWidthBox fits a minimum-volume box to both epicondyles, starting from the
// shaft frame, and measures between the extreme points along its longest side.
func (e *Engine) epicondylarWidthBox(m *models.Measurement) error {
	f, err := e.requireFrame()
	if err != nil {
		return err
	}
	medial, lateral, err := e.epicondyles()
	if err != nil {
		return err
	}

	pts := append(append([]r3.Vec(nil), medial.points...), lateral.points...)
	idx := append(append([]int(nil), medial.indices...), lateral.indices...)

	box, err := geometry.FitBox(pts, geometry.Centroid(pts), [3]r3.Vec{f.X, f.Y, f.Z}, e.params.Minimizer)
	if err != nil {
		return fmt.Errorf("epicondylar box fit: %w", err)
	}
	widest := floats.MaxIdx(box.Dims[:])
	ts := box.Axes[widest].Project(pts)
	lo, hi := floats.MinIdx(ts), floats.MaxIdx(ts)

	setEpicondylar(m, pts[hi], pts[lo])
	m.SetIndex("p1", idx[hi])
	m.SetIndex("p2", idx[lo])
	m.SetVector("boxCentre", box.Centre)
	return nil
}

func (e *Engine) epicondyles() (regionPoints, regionPoints, error) {
	medial, err := e.region("medialEpicondyle", e.params.Regions.MedialEpicondyle)
	if err != nil {
		return regionPoints{}, regionPoints{}, err
	}
	lateral, err := e.region("lateralEpicondyle", e.params.Regions.LateralEpicondyle)
	if err != nil {
		return regionPoints{}, regionPoints{}, err
	}
	return medial, lateral, nil
}

func frameCoords(f Frame, axis r3.Vec, points []r3.Vec) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = r3.Dot(r3.Sub(p, f.Origin), axis)
	}
	return out
}

// setEpicondylar records the width between p1 and p2 and the epicondylar axis through
// their midpoint.
func setEpicondylar(m *models.Measurement, p1, p2 r3.Vec) {
	m.Value = geometry.Distance(p1, p2)
	m.SetVector("p1", p1)
	m.SetVector("p2", p2)
	if dir, err := geometry.Unit(r3.Sub(p1, p2)); err == nil {
		m.SetVector("axisDirection", dir)
	} else {
		m.Warnings = append(m.Warnings, "epicondylar points coincide, no axis direction")
	}
	m.SetVector("axisPoint", r3.Scale(0.5, r3.Add(p1, p2)))
}
