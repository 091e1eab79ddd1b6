package field

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// twoElementMesh is a unit quad (element 7) next to a triangle (element 3).
func twoElementMesh(t *testing.T) *Mesh {
	t.Helper()
	ids := []int{4, 1, 2, 3, 5}
	coords := []r3.Vec{
		{X: 0, Y: 1}, // 4
		{X: 0, Y: 0}, // 1
		{X: 1, Y: 0}, // 2
		{X: 1, Y: 1}, // 3
		{X: 2, Y: 0}, // 5
	}
	m, err := NewMesh(ids, coords, []Element{
		{ID: 7, Nodes: []int{1, 2, 3, 4}},
		{ID: 3, Nodes: []int{2, 5, 3}},
	})
	require.NoError(t, err)
	return m
}

func TestNewMeshSortsIDs(t *testing.T) {
	m := twoElementMesh(t)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, m.NodeIDs())
	assert.Equal(t, []int{3, 7}, m.ElementIDs())

	p, ok := m.Node(4)
	require.True(t, ok)
	assert.Equal(t, r3.Vec{Y: 1}, p)

	_, ok = m.Node(99)
	assert.False(t, ok)
}

func TestElementArea(t *testing.T) {
	m := twoElementMesh(t)
	a, ok := m.ElementArea(7)
	require.True(t, ok)
	assert.InDelta(t, 1.0, a, 1e-12)

	a, ok = m.ElementArea(3)
	require.True(t, ok)
	assert.InDelta(t, 0.5, a, 1e-12)

	_, ok = m.ElementArea(99)
	assert.False(t, ok)
}

func TestNewMeshRejectsBadInput(t *testing.T) {
	_, err := NewMesh([]int{1, 1}, []r3.Vec{{}, {}}, nil)
	assert.Error(t, err)

	_, err = NewMesh([]int{1, 2}, []r3.Vec{{}}, nil)
	assert.Error(t, err)

	_, err = NewMesh([]int{1, 2, 3}, []r3.Vec{{}, {}, {}}, []Element{{ID: 1, Nodes: []int{1, 2, 4}}})
	assert.Error(t, err)

	_, err = NewMesh([]int{1, 2}, []r3.Vec{{}, {}}, []Element{{ID: 1, Nodes: []int{1, 2}}})
	assert.Error(t, err)
}

func TestEvaluateOrderAndMap(t *testing.T) {
	m := twoElementMesh(t)
	d := Density{4, 4}

	ep, err := m.Evaluate(d)
	require.NoError(t, err)
	// triangle: 4+3+2+1 samples, quad: 16
	require.Len(t, ep, 10+16)

	epm, err := m.ElementPointIndexMap(d, []int{7, 3})
	require.NoError(t, err)
	assert.Equal(t, Range{Start: 0, End: 10}, epm[3])
	assert.Equal(t, Range{Start: 10, End: 26}, epm[7])

	// first sample of each element is its first node
	assert.InDelta(t, 1.0, ep[epm[3].Start].X, 1e-12)
	assert.InDelta(t, 0.0, ep[epm[7].Start].X, 1e-12)

	for _, p := range ep[epm[7].Start:epm[7].End] {
		assert.True(t, p.X >= -1e-12 && p.X <= 1+1e-12)
		assert.True(t, p.Y >= -1e-12 && p.Y <= 1+1e-12)
	}
	for _, p := range ep[epm[3].Start:epm[3].End] {
		// inside the triangle (1,0) (2,0) (1,1)
		assert.LessOrEqual(t, p.X+p.Y, 2+1e-12)
		assert.GreaterOrEqual(t, p.X, 1-1e-12)
	}
}

func TestElementPointIndexMapUnknownElement(t *testing.T) {
	m := twoElementMesh(t)
	_, err := m.ElementPointIndexMap(DefaultDensity, []int{3, 42})
	assert.Error(t, err)
}

func TestEvaluateRejectsLowDensity(t *testing.T) {
	m := twoElementMesh(t)
	_, err := m.Evaluate(Density{1, 5})
	assert.Error(t, err)
}

func TestQuad9ReproducesParabola(t *testing.T) {
	// z = x^2 over the unit square is exact in the biquadratic basis
	var ids []int
	var coords []r3.Vec
	grid := [9][2]float64{
		{0, 0}, {1, 0}, {1, 1}, {0, 1},
		{0.5, 0}, {1, 0.5}, {0.5, 1}, {0, 0.5},
		{0.5, 0.5},
	}
	for i, g := range grid {
		ids = append(ids, i+1)
		coords = append(coords, r3.Vec{X: g[0], Y: g[1], Z: g[0] * g[0]})
	}
	m, err := NewMesh(ids, coords, []Element{{ID: 1, Nodes: ids}})
	require.NoError(t, err)

	ep, err := m.Evaluate(Density{5, 5})
	require.NoError(t, err)
	require.Len(t, ep, 25)
	for _, p := range ep {
		assert.InDelta(t, p.X*p.X, p.Z, 1e-12)
	}
}

func TestEvaluateNodeLoop(t *testing.T) {
	m := twoElementMesh(t)
	pts, err := m.EvaluateNodeLoop([]int{1, 2, 3, 4}, 4)
	require.NoError(t, err)
	require.Len(t, pts, 16)

	assert.Equal(t, r3.Vec{}, pts[0])
	assert.InDelta(t, 0.25, pts[1].X, 1e-12)
	// last segment runs from node 4 back towards node 1
	assert.InDelta(t, 0.25, pts[15].Y, 1e-12)

	_, err = m.EvaluateNodeLoop([]int{1, 99}, 4)
	assert.Error(t, err)
	_, err = m.EvaluateNodeLoop([]int{1}, 4)
	assert.Error(t, err)
}

func TestApplyAffineTransform(t *testing.T) {
	m := twoElementMesh(t)
	c := math.Cos(math.Pi / 2)
	s := math.Sin(math.Pi / 2)
	tr := mat.NewDense(4, 4, []float64{
		c, -s, 0, 10,
		s, c, 0, 0,
		0, 0, 1, 5,
		0, 0, 0, 1,
	})
	require.NoError(t, m.ApplyAffineTransform(tr))

	p, _ := m.Node(2)
	assert.InDelta(t, 10, p.X, 1e-12)
	assert.InDelta(t, 1, p.Y, 1e-12)
	assert.InDelta(t, 5, p.Z, 1e-12)

	assert.Error(t, m.ApplyAffineTransform(mat.NewDense(3, 3, nil)))
}

func TestCloneIsIndependent(t *testing.T) {
	m := twoElementMesh(t)
	c := m.Clone()
	require.NoError(t, c.ApplyAffineTransform(mat.NewDense(3, 4, []float64{
		1, 0, 0, 1,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})))
	p, _ := m.Node(1)
	q, _ := c.Node(1)
	assert.Equal(t, 0.0, p.X)
	assert.Equal(t, 1.0, q.X)
}

func BenchmarkEvaluate(b *testing.B) {
	var ids []int
	var coords []r3.Vec
	var elems []Element
	const n = 30
	for j := 0; j <= n; j++ {
		for i := 0; i <= n; i++ {
			ids = append(ids, j*(n+1)+i+1)
			coords = append(coords, r3.Vec{X: float64(i), Y: float64(j)})
		}
	}
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			a := j*(n+1) + i + 1
			elems = append(elems, Element{ID: len(elems) + 1, Nodes: []int{a, a + 1, a + n + 2, a + n + 1}})
		}
	}
	m, err := NewMesh(ids, coords, elems)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Evaluate(DefaultDensity); err != nil {
			b.Fatal(err)
		}
	}
}
