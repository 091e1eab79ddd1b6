package measure

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/internal/models"
	"femurmeasure/pkg/config"
	"femurmeasure/pkg/geometry"
)

type step struct {
	deps []string
	run  func(e *Engine, m *models.Measurement) error
}

// stepsFor returns the measurement graph. The epicondylar width needs the shaft frame
// for every method except the node distance.
func stepsFor(epicondylarMethod string) (map[string]step, error) {
	var epicondylar step
	switch epicondylarMethod {
	case "", config.EpicondylarByNode:
		epicondylar = step{run: (*Engine).epicondylarWidthByNode}
	case config.EpicondylarCaliper:
		epicondylar = step{deps: []string{models.ShaftFrame}, run: (*Engine).epicondylarWidthCaliper}
	case config.EpicondylarDistance:
		epicondylar = step{deps: []string{models.ShaftFrame}, run: (*Engine).epicondylarWidthDistance}
	case config.EpicondylarBox:
		epicondylar = step{deps: []string{models.ShaftFrame}, run: (*Engine).epicondylarWidthBox}
	default:
		return nil, configf("unknown epicondylar method %q", epicondylarMethod)
	}

	return map[string]step{
		models.ShaftAxis:  {run: (*Engine).fitShaftAxis},
		models.NeckAxis:   {run: (*Engine).fitNeckAxis},
		models.ShaftFrame: {deps: []string{models.ShaftAxis}, run: (*Engine).fitShaftFrame},

		models.HeadDiameter:      {run: (*Engine).headDiameter},
		models.NeckWidth:         {deps: []string{models.NeckAxis}, run: (*Engine).neckWidth},
		models.NeckDiameter:      {deps: []string{models.NeckAxis}, run: (*Engine).neckDiameter},
		models.NeckShaftAngle:    {deps: []string{models.ShaftAxis, models.NeckAxis}, run: (*Engine).neckShaftAngle},
		models.FemoralAxisLength: {deps: []string{models.NeckAxis}, run: (*Engine).femoralAxisLength},
		models.LengthLong:        {deps: []string{models.ShaftAxis}, run: (*Engine).lengthLong},
		models.LengthShort:       {deps: []string{models.ShaftAxis}, run: (*Engine).lengthShort},

		models.SubtrochantericDiameter: {run: (*Engine).subtrochantericDiameter},
		models.SubtrochantericWidth:    {deps: []string{models.ShaftFrame}, run: (*Engine).subtrochantericWidth},
		models.MidshaftDiameter:        {run: (*Engine).midshaftDiameter},
		models.MidshaftWidth:           {deps: []string{models.ShaftFrame}, run: (*Engine).midshaftWidth},

		models.EpicondylarWidth: epicondylar,
		models.AnteversionAngle: {
			deps: []string{models.ShaftAxis, models.NeckAxis, models.ShaftFrame},
			run:  (*Engine).anteversionAngle,
		},
	}, nil
}

// regionPoints is the EP of a region with the global EP index of each point. weights
// holds the surface area each point stands for: its element's area shared equally
// among the element's EP.
type regionPoints struct {
	points  []r3.Vec
	indices []int
	weights []float64
}

// region gathers the EP of the given elements in ascending element-id order.
func (e *Engine) region(name string, elementIDs []int) (regionPoints, error) {
	if len(elementIDs) == 0 {
		return regionPoints{}, configf("region %s is empty", name)
	}
	ids := append([]int(nil), elementIDs...)
	sort.Ints(ids)

	epm, err := e.field.ElementPointIndexMap(e.params.Density, ids)
	if err != nil {
		return regionPoints{}, configf("region %s: %v", name, err)
	}

	var rp regionPoints
	for _, id := range ids {
		r := epm[id]
		if r.Start < 0 || r.End > len(e.ep) {
			return regionPoints{}, configf("region %s: element %d maps outside the evaluation points", name, id)
		}
		area, ok := e.field.ElementArea(id)
		if !ok {
			return regionPoints{}, configf("region %s: element %d has no area", name, id)
		}
		w := area / float64(r.Len())
		for i := r.Start; i < r.End; i++ {
			rp.points = append(rp.points, e.ep[i])
			rp.indices = append(rp.indices, i)
			rp.weights = append(rp.weights, w)
		}
	}
	return rp, nil
}

// nodeLoop evaluates a closed node loop at density[0] points per segment.
func (e *Engine) nodeLoop(name string, nodeIDs []int) ([]r3.Vec, error) {
	if len(nodeIDs) < 3 {
		return nil, configf("%s needs at least 3 nodes, got %d", name, len(nodeIDs))
	}
	pts, err := e.field.EvaluateNodeLoop(nodeIDs, e.params.Density[0])
	if err != nil {
		return nil, configf("%s: %v", name, err)
	}
	return pts, nil
}

// alignmentNodes returns the coordinates of the two condyle alignment nodes.
func (e *Engine) alignmentNodes() (r3.Vec, r3.Vec, error) {
	nodes := e.params.Regions.CondyleAlignmentNodes
	if len(nodes) != 2 {
		return r3.Vec{}, r3.Vec{}, configf("condyleAlignmentNodes needs exactly 2 nodes, got %d", len(nodes))
	}
	p1, ok := e.field.Node(nodes[0])
	if !ok {
		return r3.Vec{}, r3.Vec{}, configf("condyle alignment node %d not in field", nodes[0])
	}
	p2, ok := e.field.Node(nodes[1])
	if !ok {
		return r3.Vec{}, r3.Vec{}, configf("condyle alignment node %d not in field", nodes[1])
	}
	return p1, p2, nil
}

// The require helpers guard steps against records loaded without their geometry.

func (e *Engine) requireShaft() (geometry.Line3D, error) {
	if e.shaftAxis == nil {
		return geometry.Line3D{}, fmt.Errorf("shaft axis not available")
	}
	return *e.shaftAxis, nil
}

func (e *Engine) requireNeck() (geometry.Line3D, error) {
	if e.neckAxis == nil {
		return geometry.Line3D{}, fmt.Errorf("neck axis not available")
	}
	return *e.neckAxis, nil
}

func (e *Engine) requireFrame() (Frame, error) {
	if e.frame == nil {
		return Frame{}, fmt.Errorf("shaft frame not available")
	}
	return *e.frame, nil
}
