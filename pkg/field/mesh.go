package field

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ElementType is the interpolation basis of a surface element.
type ElementType int

const (
	// Triangle3 is a linear triangle, nodes at (0,0), (1,0), (0,1).
	Triangle3 ElementType = iota
	// Quad4 is a bilinear quadrilateral, nodes counter-clockwise from (0,0).
	Quad4
	// Quad9 is a biquadratic quadrilateral: four corners, four mid-sides starting
	// with the (0.5,0) edge, then the centre.
	Quad9
)

func (t ElementType) String() string {
	switch t {
	case Triangle3:
		return "tri3"
	case Quad4:
		return "quad4"
	case Quad9:
		return "quad9"
	default:
		return fmt.Sprintf("ElementType(%d)", int(t))
	}
}

// ElementTypeForNodes picks the basis for an element with n nodes.
func ElementTypeForNodes(n int) (ElementType, error) {
	switch n {
	case 3:
		return Triangle3, nil
	case 4:
		return Quad4, nil
	case 9:
		return Quad9, nil
	}
	return 0, fmt.Errorf("no surface basis for %d-node elements", n)
}

// Element is a surface element given by node ids.
type Element struct {
	ID    int
	Nodes []int
}

type element struct {
	typ   ElementType
	nodes []int // indices into Mesh.coords
}

// Mesh is a GeometricField over Lagrange surface elements.
type Mesh struct {
	nodeIDs   []int
	coords    []r3.Vec
	nodeIndex map[int]int

	elemIDs []int
	elems   map[int]element

	grids map[Density]*sampleGrid
}

// NewMesh builds a mesh from node ids with matching coordinates and elements that
// reference those ids. Ids need not be sorted; duplicates are rejected.
func NewMesh(nodeIDs []int, coords []r3.Vec, elements []Element) (*Mesh, error) {
	if len(nodeIDs) != len(coords) {
		return nil, fmt.Errorf("mesh: %d node ids for %d coordinates", len(nodeIDs), len(coords))
	}

	order := make([]int, len(nodeIDs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return nodeIDs[order[a]] < nodeIDs[order[b]] })

	m := &Mesh{
		nodeIDs:   make([]int, len(nodeIDs)),
		coords:    make([]r3.Vec, len(coords)),
		nodeIndex: make(map[int]int, len(nodeIDs)),
		elems:     make(map[int]element, len(elements)),
		grids:     make(map[Density]*sampleGrid),
	}
	for i, o := range order {
		id := nodeIDs[o]
		if _, dup := m.nodeIndex[id]; dup {
			return nil, fmt.Errorf("mesh: duplicate node %d", id)
		}
		m.nodeIDs[i] = id
		m.coords[i] = coords[o]
		m.nodeIndex[id] = i
	}

	for _, e := range elements {
		if _, dup := m.elems[e.ID]; dup {
			return nil, fmt.Errorf("mesh: duplicate element %d", e.ID)
		}
		typ, err := ElementTypeForNodes(len(e.Nodes))
		if err != nil {
			return nil, fmt.Errorf("mesh: element %d: %w", e.ID, err)
		}
		idx := make([]int, len(e.Nodes))
		for k, n := range e.Nodes {
			i, ok := m.nodeIndex[n]
			if !ok {
				return nil, fmt.Errorf("mesh: element %d references unknown node %d", e.ID, n)
			}
			idx[k] = i
		}
		m.elems[e.ID] = element{typ: typ, nodes: idx}
		m.elemIDs = append(m.elemIDs, e.ID)
	}
	sort.Ints(m.elemIDs)
	return m, nil
}

// ElementIDs returns element identifiers in ascending order.
func (m *Mesh) ElementIDs() []int {
	return append([]int(nil), m.elemIDs...)
}

// Element returns the type and node ids of an element.
func (m *Mesh) Element(id int) (ElementType, []int, bool) {
	e, ok := m.elems[id]
	if !ok {
		return 0, nil, false
	}
	nodes := make([]int, len(e.nodes))
	for k, i := range e.nodes {
		nodes[k] = m.nodeIDs[i]
	}
	return e.typ, nodes, true
}

// ElementArea returns the area of the polygon through the corner nodes of an element.
// Curvature of Quad9 elements is ignored.
func (m *Mesh) ElementArea(id int) (float64, bool) {
	e, ok := m.elems[id]
	if !ok {
		return 0, false
	}
	c := m.coords
	n := e.nodes
	if e.typ == Triangle3 {
		return r3.Norm(r3.Cross(r3.Sub(c[n[1]], c[n[0]]), r3.Sub(c[n[2]], c[n[0]]))) / 2, true
	}
	// Quad4 and the first four Quad9 nodes run around the corners
	return r3.Norm(r3.Cross(r3.Sub(c[n[2]], c[n[0]]), r3.Sub(c[n[3]], c[n[1]]))) / 2, true
}

// NodeIDs returns node identifiers in ascending order.
func (m *Mesh) NodeIDs() []int {
	return append([]int(nil), m.nodeIDs...)
}

// NodeCoordinates returns node coordinates in NodeIDs order.
func (m *Mesh) NodeCoordinates() []r3.Vec {
	return append([]r3.Vec(nil), m.coords...)
}

// Node returns the coordinates of node id.
func (m *Mesh) Node(id int) (r3.Vec, bool) {
	i, ok := m.nodeIndex[id]
	if !ok {
		return r3.Vec{}, false
	}
	return m.coords[i], true
}

// Evaluate samples every element at density d in ascending element-id order.
func (m *Mesh) Evaluate(d Density) ([]r3.Vec, error) {
	g, err := m.grid(d)
	if err != nil {
		return nil, err
	}

	var total int
	for _, id := range m.elemIDs {
		total += len(g.params[m.elems[id].typ])
	}
	out := make([]r3.Vec, 0, total)
	for _, id := range m.elemIDs {
		e := m.elems[id]
		for _, w := range g.weights[e.typ] {
			var p r3.Vec
			for k, n := range e.nodes {
				p = r3.Add(p, r3.Scale(w[k], m.coords[n]))
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// ElementPointIndexMap returns the EP range of each requested element at density d.
func (m *Mesh) ElementPointIndexMap(d Density, elementIDs []int) (ElementPointMap, error) {
	g, err := m.grid(d)
	if err != nil {
		return nil, err
	}

	all := make(ElementPointMap, len(m.elemIDs))
	var start int
	for _, id := range m.elemIDs {
		n := len(g.params[m.elems[id].typ])
		all[id] = Range{Start: start, End: start + n}
		start += n
	}

	out := make(ElementPointMap, len(elementIDs))
	for _, id := range elementIDs {
		r, ok := all[id]
		if !ok {
			return nil, fmt.Errorf("unknown element %d", id)
		}
		out[id] = r
	}
	return out, nil
}

// EvaluateNodeLoop samples the closed polyline through nodeIDs with perSegment
// evenly spaced points per segment, each segment starting at its first node.
func (m *Mesh) EvaluateNodeLoop(nodeIDs []int, perSegment int) ([]r3.Vec, error) {
	if len(nodeIDs) < 2 {
		return nil, fmt.Errorf("node loop needs 2 nodes, got %d", len(nodeIDs))
	}
	if perSegment < 1 {
		return nil, fmt.Errorf("node loop needs at least 1 point per segment, got %d", perSegment)
	}

	pts := make([]r3.Vec, len(nodeIDs))
	for i, id := range nodeIDs {
		p, ok := m.Node(id)
		if !ok {
			return nil, fmt.Errorf("unknown node %d", id)
		}
		pts[i] = p
	}

	out := make([]r3.Vec, 0, len(pts)*perSegment)
	for i, a := range pts {
		b := pts[(i+1)%len(pts)]
		for s := 0; s < perSegment; s++ {
			t := float64(s) / float64(perSegment)
			out = append(out, r3.Add(r3.Scale(1-t, a), r3.Scale(t, b)))
		}
	}
	return out, nil
}

// ApplyAffineTransform maps every node p to A*p + b where [A|b] are the first three
// rows of m. m must be 3×4 or 4×4.
func (m *Mesh) ApplyAffineTransform(t *mat.Dense) error {
	r, c := t.Dims()
	if (r != 3 && r != 4) || c != 4 {
		return fmt.Errorf("affine transform must be 3x4 or 4x4, got %dx%d", r, c)
	}
	for i, p := range m.coords {
		m.coords[i] = r3.Vec{
			X: t.At(0, 0)*p.X + t.At(0, 1)*p.Y + t.At(0, 2)*p.Z + t.At(0, 3),
			Y: t.At(1, 0)*p.X + t.At(1, 1)*p.Y + t.At(1, 2)*p.Z + t.At(1, 3),
			Z: t.At(2, 0)*p.X + t.At(2, 1)*p.Y + t.At(2, 2)*p.Z + t.At(2, 3),
		}
	}
	return nil
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		nodeIDs:   append([]int(nil), m.nodeIDs...),
		coords:    append([]r3.Vec(nil), m.coords...),
		nodeIndex: make(map[int]int, len(m.nodeIndex)),
		elemIDs:   append([]int(nil), m.elemIDs...),
		elems:     make(map[int]element, len(m.elems)),
		grids:     make(map[Density]*sampleGrid),
	}
	for k, v := range m.nodeIndex {
		c.nodeIndex[k] = v
	}
	for k, v := range m.elems {
		c.elems[k] = element{typ: v.typ, nodes: append([]int(nil), v.nodes...)}
	}
	return c
}

func (m *Mesh) grid(d Density) (*sampleGrid, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if g, ok := m.grids[d]; ok {
		return g, nil
	}
	g := newSampleGrid(d)
	m.grids[d] = g
	return g, nil
}

var _ GeometricField = (*Mesh)(nil)
