package measure

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/pkg/config"
	"femurmeasure/pkg/field"
	"femurmeasure/pkg/optim"
)

// femur is a synthetic femur: a cylindrical shaft of radius 20 along z from 0 to 300,
// an hourglass neck leaving the shaft at 45 degrees towards +x with its waist of
// radius 11 halfway along, and a spherical head of radius 25 beyond it. The neck may
// be turned about the shaft towards +y (anterior) by an anteversion angle.
type femur struct {
	mesh    *field.Mesh
	regions config.Regions

	headCentre r3.Vec
	neckDir    r3.Vec
}

const (
	shaftRadius  = 20.0
	shaftLength  = 300.0
	shaftRows    = 15
	around       = 24
	neckLength   = 50.0
	neckRows     = 10
	headRadius   = 25.0
	headOffset   = 70.0
	headLat      = 16
	headLon      = 32
	testDensityN = 5
)

var neckStart = r3.Vec{Z: 290}

func neckRadius(s float64) float64 {
	return 11 + 0.02*(s-25)*(s-25)
}

type meshBuilder struct {
	ids    []int
	coords []r3.Vec
	elems  []field.Element
}

func (b *meshBuilder) node(p r3.Vec) int {
	id := len(b.ids) + 1
	b.ids = append(b.ids, id)
	b.coords = append(b.coords, p)
	return id
}

func (b *meshBuilder) element(nodes ...int) int {
	id := len(b.elems) + 1
	b.elems = append(b.elems, field.Element{ID: id, Nodes: nodes})
	return id
}

// tube adds rings of nodes about centre(s) in the u-v plane and quads between them.
// It returns the node rings and the elements of each row.
func (b *meshBuilder) tube(centre func(s float64) r3.Vec, radius func(s float64) float64, u, v r3.Vec, ss []float64) ([][]int, [][]int) {
	rings := make([][]int, len(ss))
	for r, s := range ss {
		c, rad := centre(s), radius(s)
		for k := 0; k < around; k++ {
			a := 2 * math.Pi * float64(k) / around
			p := r3.Add(c, r3.Add(r3.Scale(rad*math.Cos(a), u), r3.Scale(rad*math.Sin(a), v)))
			rings[r] = append(rings[r], b.node(p))
		}
	}
	rows := make([][]int, len(ss)-1)
	for r := 0; r < len(ss)-1; r++ {
		for k := 0; k < around; k++ {
			k1 := (k + 1) % around
			rows[r] = append(rows[r], b.element(rings[r][k], rings[r][k1], rings[r+1][k1], rings[r+1][k]))
		}
	}
	return rings, rows
}

// sphere adds a latitude/longitude sphere with triangle caps.
func (b *meshBuilder) sphere(centre r3.Vec, radius float64) []int {
	north := b.node(r3.Add(centre, r3.Vec{Z: radius}))
	rings := make([][]int, headLat-1)
	for i := 1; i < headLat; i++ {
		phi := math.Pi * float64(i) / headLat
		for j := 0; j < headLon; j++ {
			theta := 2 * math.Pi * float64(j) / headLon
			rings[i-1] = append(rings[i-1], b.node(r3.Add(centre, r3.Vec{
				X: radius * math.Sin(phi) * math.Cos(theta),
				Y: radius * math.Sin(phi) * math.Sin(theta),
				Z: radius * math.Cos(phi),
			})))
		}
	}
	south := b.node(r3.Add(centre, r3.Vec{Z: -radius}))

	var elems []int
	for j := 0; j < headLon; j++ {
		j1 := (j + 1) % headLon
		elems = append(elems, b.element(north, rings[0][j], rings[0][j1]))
	}
	for i := 0; i < len(rings)-1; i++ {
		for j := 0; j < headLon; j++ {
			j1 := (j + 1) % headLon
			elems = append(elems, b.element(rings[i][j], rings[i+1][j], rings[i+1][j1], rings[i][j1]))
		}
	}
	last := rings[len(rings)-1]
	for j := 0; j < headLon; j++ {
		j1 := (j + 1) % headLon
		elems = append(elems, b.element(last[j], south, last[j1]))
	}
	return elems
}

func newFemur(t testing.TB) *femur {
	t.Helper()
	return newAntevertedFemur(t, 0)
}

// newAntevertedFemur builds the femur with its neck turned by anteversion degrees
// about the shaft axis.
func newAntevertedFemur(t testing.TB, anteversion float64) *femur {
	t.Helper()
	var b meshBuilder

	shaftS := make([]float64, shaftRows+1)
	for i := range shaftS {
		shaftS[i] = shaftLength * float64(i) / shaftRows
	}
	shaftRings, shaftElems := b.tube(
		func(s float64) r3.Vec { return r3.Vec{Z: s} },
		func(float64) float64 { return shaftRadius },
		r3.Vec{X: 1}, r3.Vec{Y: 1}, shaftS,
	)

	sa, ca := math.Sincos(anteversion * math.Pi / 180)
	d := r3.Unit(r3.Vec{X: ca, Y: sa, Z: 1})
	v := r3.Vec{X: -sa, Y: ca}
	neckS := make([]float64, neckRows+1)
	for i := range neckS {
		neckS[i] = neckLength * float64(i) / neckRows
	}
	_, neckRowsElems := b.tube(
		func(s float64) r3.Vec { return r3.Add(neckStart, r3.Scale(s, d)) },
		neckRadius,
		r3.Unit(r3.Cross(v, d)), v, neckS,
	)

	headCentre := r3.Add(neckStart, r3.Scale(headOffset, d))
	head := b.sphere(headCentre, headRadius)

	mesh, err := field.NewMesh(b.ids, b.coords, b.elems)
	require.NoError(t, err)

	var regions config.Regions
	for r, row := range shaftElems {
		for k, id := range row {
			regions.Shaft = append(regions.Shaft, id)
			c := math.Cos(2 * math.Pi * (float64(k) + 0.5) / around)
			if r >= shaftRows-3 && c < 0 {
				regions.GreaterTrochanter = append(regions.GreaterTrochanter, id)
			}
			if r < 2 && c > 0.5 {
				regions.MedialCondyle = append(regions.MedialCondyle, id)
			}
			if r < 2 && c < -0.5 {
				regions.LateralCondyle = append(regions.LateralCondyle, id)
			}
		}
	}
	regions.MedialEpicondyle = append([]int(nil), regions.MedialCondyle...)
	regions.LateralEpicondyle = append([]int(nil), regions.LateralCondyle...)
	for _, row := range neckRowsElems {
		regions.Neck = append(regions.Neck, row...)
	}
	regions.NeckLong = append([]int(nil), regions.Neck...)
	regions.Head = head
	regions.SubtrochanterNodes = shaftRings[10]
	regions.MidshaftNodes = shaftRings[7]
	// lateral (x = -20) then medial (x = +20)
	regions.CondyleAlignmentNodes = []int{shaftRings[0][around/2], shaftRings[0][0]}

	return &femur{mesh: mesh, regions: regions, headCentre: headCentre, neckDir: d}
}

func testParams(regions config.Regions) Params {
	p := DefaultParams(regions)
	p.Density = field.Density{testDensityN, testDensityN}
	return p
}

// countingMinimizer counts calls to the wrapped minimiser.
type countingMinimizer struct {
	calls int
	inner optim.Minimizer
}

func (c *countingMinimizer) Minimize(p optim.Problem, tol optim.Tolerance) (optim.Optimum, error) {
	c.calls++
	return c.inner.Minimize(p, tol)
}
