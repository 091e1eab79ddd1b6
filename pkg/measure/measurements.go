package measure

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/internal/models"
	"femurmeasure/pkg/geometry"
	"femurmeasure/pkg/xsection"
)

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// headDiameter is twice the radius of a sphere fitted to the head EP.
func (e *Engine) headDiameter(m *models.Measurement) error {
	head, err := e.region("head", e.params.Regions.Head)
	if err != nil {
		return err
	}
	fit, err := geometry.FitSphere(head.points)
	if err != nil {
		return fmt.Errorf("head sphere fit: %w", err)
	}
	m.Value = 2 * fit.Radius
	m.SetVector("centre", fit.Centre)
	return nil
}

// neckWidth cuts the long neck EP with the plane normal to the neck axis at its point
// and measures between the highest and lowest footprint points.
func (e *Engine) neckWidth(m *models.Measurement) error {
	neck, err := e.requireNeck()
	if err != nil {
		return err
	}
	long, err := e.region("neckLong", e.params.Regions.NeckLong)
	if err != nil {
		return err
	}

	plane, err := geometry.NewPlane(neck.Dir, neck.Point)
	if err != nil {
		return err
	}
	proj, idx := plane.ProjectClosePoints(long.points, e.params.Search.AcceptanceDistance)
	if len(proj) == 0 {
		return xsection.ErrEmptyFootprint
	}

	zs := make([]float64, len(proj))
	for i, p := range proj {
		zs[i] = p.Z
	}
	sup, inf := floats.MaxIdx(zs), floats.MinIdx(zs)

	m.Value = geometry.Distance(proj[sup], proj[inf])
	m.SetVector("centre", neck.Point)
	m.SetVector("interceptSuperior", proj[sup])
	m.SetVector("interceptInferior", proj[inf])
	m.SetIndex("superior", long.indices[idx[sup]])
	m.SetIndex("inferior", long.indices[idx[inf]])
	if rec, ok := e.records[models.NeckAxis]; ok {
		if v, ok := rec.Vectors["searchStart"]; ok {
			m.SetVector("searchStart", v)
		}
		if v, ok := rec.Vectors["searchEnd"]; ok {
			m.SetVector("searchEnd", v)
		}
	}
	return nil
}

// neckDiameter approximates the neck diameter by twice the distance from the neck
// axis to the closest neck EP.
func (e *Engine) neckDiameter(m *models.Measurement) error {
	neck, err := e.requireNeck()
	if err != nil {
		return err
	}
	rp, err := e.region("neck", e.params.Regions.Neck)
	if err != nil {
		return err
	}

	dist := make([]float64, len(rp.points))
	for i, p := range rp.points {
		dist[i] = neck.Distance(p)
	}
	i := floats.MinIdx(dist)
	m.Value = 2 * dist[i]
	m.SetIndex("closest", rp.indices[i])
	return nil
}

// neckShaftAngle is the angle between the shaft and neck axis directions in degrees.
func (e *Engine) neckShaftAngle(m *models.Measurement) error {
	shaft, err := e.requireShaft()
	if err != nil {
		return err
	}
	neck, err := e.requireNeck()
	if err != nil {
		return err
	}
	a := geometry.Angle(shaft.Dir, neck.Dir)
	if math.IsNaN(a) {
		return fmt.Errorf("zero axis direction: %w", geometry.ErrDegenerate)
	}
	m.Value = degrees(a)
	return nil
}

// femoralAxisLength is the distance along the neck axis between the head EP and the
// greater trochanter EP closest to it.
func (e *Engine) femoralAxisLength(m *models.Measurement) error {
	neck, err := e.requireNeck()
	if err != nil {
		return err
	}
	head, err := e.region("head", e.params.Regions.Head)
	if err != nil {
		return err
	}
	troc, err := e.region("greaterTrochanter", e.params.Regions.GreaterTrochanter)
	if err != nil {
		return err
	}

	hi := closestToLine(neck, head.points)
	ti := closestToLine(neck, troc.points)
	headIntercept, _ := neck.ClosestPoint(head.points[hi])
	trocIntercept, _ := neck.ClosestPoint(troc.points[ti])

	m.Value = geometry.Distance(headIntercept, trocIntercept)
	m.SetVector("headIntercept", headIntercept)
	m.SetVector("trochanterIntercept", trocIntercept)
	m.SetIndex("head", head.indices[hi])
	m.SetIndex("greaterTrochanter", troc.indices[ti])
	return nil
}

func closestToLine(l geometry.Line3D, points []r3.Vec) int {
	dist := make([]float64, len(points))
	for i, p := range points {
		dist[i] = l.Distance(p)
	}
	return floats.MinIdx(dist)
}

// lengthLong is the extent along the shaft axis from the medial condyle to the head.
func (e *Engine) lengthLong(m *models.Measurement) error {
	return e.axialLength(m, "head", e.params.Regions.Head, "medialCondyle", e.params.Regions.MedialCondyle)
}

// lengthShort is the extent along the shaft axis from the lateral condyle to the
// greater trochanter.
func (e *Engine) lengthShort(m *models.Measurement) error {
	return e.axialLength(m, "greaterTrochanter", e.params.Regions.GreaterTrochanter, "lateralCondyle", e.params.Regions.LateralCondyle)
}

// axialLength projects a proximal and a distal region onto the shaft axis and measures
// from the far end of one to the far end of the other. Which end is far follows from
// the region means, so the result does not depend on the axis orientation.
func (e *Engine) axialLength(m *models.Measurement, proxName string, proxIDs []int, distName string, distIDs []int) error {
	shaft, err := e.requireShaft()
	if err != nil {
		return err
	}
	prox, err := e.region(proxName, proxIDs)
	if err != nil {
		return err
	}
	dist, err := e.region(distName, distIDs)
	if err != nil {
		return err
	}

	tp := shaft.Project(prox.points)
	td := shaft.Project(dist.points)
	var pi, di int
	if floats.Sum(tp)/float64(len(tp)) > floats.Sum(td)/float64(len(td)) {
		pi, di = floats.MaxIdx(tp), floats.MinIdx(td)
		m.Value = tp[pi] - td[di]
	} else {
		pi, di = floats.MinIdx(tp), floats.MaxIdx(td)
		m.Value = td[di] - tp[pi]
	}

	m.SetVector(proxName, prox.points[pi])
	m.SetVector(distName, dist.points[di])
	m.SetIndex(proxName, prox.indices[pi])
	m.SetIndex(distName, dist.indices[di])
	return nil
}

func (e *Engine) subtrochantericDiameter(m *models.Measurement) error {
	return e.ringDiameter(m, "subtrochanterNodes", e.params.Regions.SubtrochanterNodes)
}

func (e *Engine) midshaftDiameter(m *models.Measurement) error {
	return e.ringDiameter(m, "midshaftNodes", e.params.Regions.MidshaftNodes)
}

func (e *Engine) subtrochantericWidth(m *models.Measurement) error {
	return e.ringWidth(m, "subtrochanterNodes", e.params.Regions.SubtrochanterNodes)
}

func (e *Engine) midshaftWidth(m *models.Measurement) error {
	return e.ringWidth(m, "midshaftNodes", e.params.Regions.MidshaftNodes)
}

// ringDiameter fits a circle to a node loop. A ring is planar, so a sphere fit would be
// undetermined.
func (e *Engine) ringDiameter(m *models.Measurement, name string, nodes []int) error {
	pts, err := e.nodeLoop(name, nodes)
	if err != nil {
		return err
	}
	fit, err := geometry.FitCircle3D(pts)
	if err != nil {
		return fmt.Errorf("%s circle fit: %w", name, err)
	}
	m.Value = 2 * fit.Radius
	m.SetVector("centre", fit.Centre)
	m.SetVector("normal", fit.Normal)
	return nil
}

// ringWidth is the caliper width of a node loop along the shaft frame x axis.
func (e *Engine) ringWidth(m *models.Measurement, name string, nodes []int) error {
	f, err := e.requireFrame()
	if err != nil {
		return err
	}
	pts, err := e.nodeLoop(name, nodes)
	if err != nil {
		return err
	}

	xs := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = r3.Dot(r3.Sub(p, f.Origin), f.X)
	}
	hi, lo := floats.MaxIdx(xs), floats.MinIdx(xs)
	m.Value = xs[hi] - xs[lo]
	m.SetVector("p1", pts[hi])
	m.SetVector("p2", pts[lo])
	return nil
}

// anteversionAngle is the signed angle, in the plane normal to the shaft axis, from
// the posterior condylar line to the neck axis, in degrees.
func (e *Engine) anteversionAngle(m *models.Measurement) error {
	shaft, err := e.requireShaft()
	if err != nil {
		return err
	}
	neck, err := e.requireNeck()
	if err != nil {
		return err
	}
	f, err := e.requireFrame()
	if err != nil {
		return err
	}
	medial, err := e.region("medialCondyle", e.params.Regions.MedialCondyle)
	if err != nil {
		return err
	}
	lateral, err := e.region("lateralCondyle", e.params.Regions.LateralCondyle)
	if err != nil {
		return err
	}

	px, err := geometry.Unit(r3.Cross(shaft.Dir, r3.Vec{X: 1}))
	if err != nil {
		return fmt.Errorf("shaft axis parallel to x: %w", err)
	}
	py, err := geometry.Unit(r3.Cross(shaft.Dir, px))
	if err != nil {
		return err
	}
	plane := geometry.Plane{Normal: shaft.Dir, Point: f.Origin, X: px, Y: py}

	mi := posteriorMost(f, medial.points)
	li := posteriorMost(f, lateral.points)
	mp, lp := medial.points[mi], lateral.points[li]
	condylar := r3.Sub(mp, lp)

	v1 := plane.Project2D(condylar)
	v2 := plane.Project2D(neck.Dir)
	if (v1[0] == 0 && v1[1] == 0) || (v2[0] == 0 && v2[1] == 0) {
		return fmt.Errorf("condylar or neck direction parallel to shaft: %w", geometry.ErrDegenerate)
	}

	m.Value = degrees(geometry.SignedAngle2D(v1, v2))
	m.SetVector("posteriorCondyleDirection", condylar)
	m.SetVector("posteriorCondylePoint", r3.Scale(0.5, r3.Add(mp, lp)))
	m.SetIndex("medialCondyle", medial.indices[mi])
	m.SetIndex("lateralCondyle", lateral.indices[li])
	return nil
}

// posteriorMost returns the point with the smallest coordinate along the frame y axis.
func posteriorMost(f Frame, points []r3.Vec) int {
	ys := make([]float64, len(points))
	for i, p := range points {
		ys[i] = r3.Dot(r3.Sub(p, f.Origin), f.Y)
	}
	return floats.MinIdx(ys)
}
