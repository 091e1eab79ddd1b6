package measure

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/internal/models"
	"femurmeasure/pkg/geometry"
	"femurmeasure/pkg/xsection"
)

// fitShaftAxis fits a line to the shaft EP, seeded along +z through their mean. The
// direction is flipped if needed so that its z component is non-negative.
func (e *Engine) fitShaftAxis(m *models.Measurement) error {
	shaft, err := e.region("shaft", e.params.Regions.Shaft)
	if err != nil {
		return err
	}

	seed := geometry.Line3D{Dir: r3.Vec{Z: 1}, Point: geometry.Centroid(shaft.points)}
	axis, rmse, err := geometry.FitLine3D(shaft.points, seed)
	if err != nil {
		return fmt.Errorf("shaft line fit: %w", err)
	}
	if axis.Dir.Z < 0 {
		axis = axis.Flip()
	}

	m.SetVector("direction", axis.Dir)
	m.SetVector("point", axis.Point)
	m.Value = rmse
	e.shaftAxis = &axis
	return nil
}

// fitNeckAxis fits a rough area-weighted axis through the neck and head EP, then
// refines it by searching for the minimal neck cross-section between the neck end of
// the long neck region and EndOffset short of its head end.
func (e *Engine) fitNeckAxis(m *models.Measurement) error {
	regions := e.params.Regions
	neck, err := e.region("neck", regions.Neck)
	if err != nil {
		return err
	}
	head, err := e.region("head", regions.Head)
	if err != nil {
		return err
	}
	long, err := e.region("neckLong", regions.NeckLong)
	if err != nil {
		return err
	}

	neckCentre := geometry.Centroid(neck.points)
	seed, err := geometry.NewLine3D(r3.Sub(geometry.Centroid(head.points), neckCentre), neckCentre)
	if err != nil {
		return fmt.Errorf("neck axis seed: %w", err)
	}
	pts := make([]r3.Vec, 0, len(neck.points)+len(head.points))
	pts = append(pts, neck.points...)
	pts = append(pts, head.points...)
	weights := make([]float64, 0, len(pts))
	weights = append(weights, neck.weights...)
	weights = append(weights, head.weights...)
	// every element has the same EP count, so each point carries its share of area
	rough, _, err := geometry.FitLine3DWeighted(pts, weights, seed)
	if err != nil {
		return fmt.Errorf("rough neck line fit: %w", err)
	}

	ts := rough.Project(long.points)
	tMin, tMax := floats.Min(ts), floats.Max(ts)
	tEnd := tMax - e.params.EndOffset
	if tEnd <= tMin {
		m.Warnings = append(m.Warnings, fmt.Sprintf("neck region shorter than end offset %g, searching its full length", e.params.EndOffset))
		tEnd = tMax
	}
	p0, p1 := rough.Eval(tMin), rough.Eval(tEnd)

	dist := make([]float64, len(long.points))
	for i, p := range long.points {
		dist[i] = rough.Distance(p)
	}
	closest := floats.MinIdx(dist)
	t0 := 0.0
	if tEnd > tMin {
		t0 = (ts[closest] - tMin) / (tEnd - tMin)
	}

	finder, err := xsection.NewFinder(long.points, e.params.Search, e.params.Minimizer)
	if err != nil {
		return err
	}
	sec, err := finder.Search(p0, p1, t0)

	var axis geometry.Line3D
	switch {
	case errors.Is(err, xsection.ErrEmptyFootprint):
		p, _ := rough.ClosestPoint(long.points[closest])
		axis = geometry.Line3D{Dir: rough.Dir, Point: p}
		m.Warnings = append(m.Warnings, "neck cross-section search found no footprint, using rough axis")
	case err != nil:
		return fmt.Errorf("neck cross-section search: %w", err)
	default:
		dir := sec.Plane.Normal
		if r3.Dot(dir, rough.Dir) < 0 {
			dir = r3.Scale(-1, dir)
		}
		axis = geometry.Line3D{Dir: dir, Point: sec.Plane.Point}
		if sec.FellBack {
			m.Warnings = append(m.Warnings, "free neck search found no footprint or did not converge, using the line search result")
		}
		if !sec.Converged {
			m.Warnings = append(m.Warnings, "neck search stopped on its evaluation budget")
		}
		m.Value = sec.MeanRadius
		e.neckSection = &sec
	}

	m.SetVector("direction", axis.Dir)
	m.SetVector("point", axis.Point)
	m.SetVector("roughDirection", rough.Dir)
	m.SetVector("searchStart", p0)
	m.SetVector("searchEnd", p1)
	m.SetIndex("closest", long.indices[closest])
	e.neckAxis = &axis
	return nil
}

// fitShaftFrame builds the shaft frame: z is the shaft axis, y is normal to z and the
// condyle alignment vector, x = y × z. The origin is the EP centroid at FrameDensity.
func (e *Engine) fitShaftFrame(m *models.Measurement) error {
	shaft, err := e.requireShaft()
	if err != nil {
		return err
	}
	p1, p2, err := e.alignmentNodes()
	if err != nil {
		return err
	}

	v, err := geometry.Unit(r3.Sub(p1, p2))
	if err != nil {
		return fmt.Errorf("condyle alignment nodes coincide: %w", err)
	}
	z := shaft.Dir
	y, err := geometry.Unit(r3.Cross(v, z))
	if err != nil {
		return fmt.Errorf("condyle alignment parallel to shaft: %w", err)
	}
	x, err := geometry.Unit(r3.Cross(y, z))
	if err != nil {
		return err
	}

	coarse, err := e.field.Evaluate(e.params.FrameDensity)
	if err != nil {
		return fmt.Errorf("evaluating frame points: %w", err)
	}
	f := Frame{Origin: geometry.Centroid(coarse), X: x, Y: y, Z: z}

	m.SetVector("origin", f.Origin)
	m.SetVector("x", f.X)
	m.SetVector("y", f.Y)
	m.SetVector("z", f.Z)
	e.frame = &f
	return nil
}

// AlignToShaftFrame transforms the field so that the shaft frame becomes the world
// frame: its origin moves to zero and x, y, z onto the coordinate axes. EP are
// re-evaluated and every record is discarded.
func (e *Engine) AlignToShaftFrame() error {
	f, err := e.ShaftFrame()
	if err != nil {
		return err
	}

	rot := mat.NewDense(3, 3, []float64{
		f.X.X, f.X.Y, f.X.Z,
		f.Y.X, f.Y.Y, f.Y.Z,
		f.Z.X, f.Z.Y, f.Z.Z,
	})
	var shift mat.VecDense
	shift.MulVec(rot, mat.NewVecDense(3, []float64{f.Origin.X, f.Origin.Y, f.Origin.Z}))

	t := mat.NewDense(4, 4, nil)
	t.Slice(0, 3, 0, 3).(*mat.Dense).Copy(rot)
	for i := 0; i < 3; i++ {
		t.Set(i, 3, -shift.AtVec(i))
	}
	t.Set(3, 3, 1)

	if err := e.field.ApplyAffineTransform(t); err != nil {
		return fmt.Errorf("aligning field: %w", err)
	}
	if err := e.evaluate(); err != nil {
		return err
	}
	e.invalidate()
	e.log.Info("field aligned to shaft frame")
	return nil
}
