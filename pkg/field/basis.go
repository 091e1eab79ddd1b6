package field

// sampleGrid holds the parametric sample points of each element type at one density
// together with the basis weights evaluated there.
type sampleGrid struct {
	params  map[ElementType][][2]float64
	weights map[ElementType][][]float64
}

func newSampleGrid(d Density) *sampleGrid {
	g := &sampleGrid{
		params:  make(map[ElementType][][2]float64),
		weights: make(map[ElementType][][]float64),
	}
	n0, n1 := d[0], d[1]

	var quad, tri [][2]float64
	for j := 0; j < n1; j++ {
		eta := float64(j) / float64(n1-1)
		for i := 0; i < n0; i++ {
			xi := float64(i) / float64(n0-1)
			quad = append(quad, [2]float64{xi, eta})
			if xi+eta <= 1+1e-12 {
				tri = append(tri, [2]float64{xi, eta})
			}
		}
	}

	g.params[Quad4] = quad
	g.params[Quad9] = quad
	g.params[Triangle3] = tri
	for typ, ps := range g.params {
		w := make([][]float64, len(ps))
		for k, p := range ps {
			w[k] = basis(typ, p[0], p[1])
		}
		g.weights[typ] = w
	}
	return g
}

// quad9Order gives the (xi, eta) Lagrange index pair of each Quad9 node.
var quad9Order = [9][2]int{
	{0, 0}, {2, 0}, {2, 2}, {0, 2},
	{1, 0}, {2, 1}, {1, 2}, {0, 1},
	{1, 1},
}

func basis(typ ElementType, xi, eta float64) []float64 {
	switch typ {
	case Triangle3:
		return []float64{1 - xi - eta, xi, eta}
	case Quad4:
		return []float64{
			(1 - xi) * (1 - eta),
			xi * (1 - eta),
			xi * eta,
			(1 - xi) * eta,
		}
	case Quad9:
		lx, le := quadratic(xi), quadratic(eta)
		w := make([]float64, 9)
		for k, o := range quad9Order {
			w[k] = lx[o[0]] * le[o[1]]
		}
		return w
	}
	return nil
}

// quadratic evaluates the 1D Lagrange basis with nodes at 0, 0.5 and 1.
func quadratic(x float64) [3]float64 {
	return [3]float64{
		2 * (x - 0.5) * (x - 1),
		4 * x * (1 - x),
		2 * x * (x - 0.5),
	}
}
