// Package stl exports evaluated femur surfaces and cross-sections as binary STL files.
package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/pkg/field"
)

// Triangle is one STL facet
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

func vec32(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

// NewTriangle builds a facet with its normal following the a, b, c winding.
// Degenerate facets get a zero normal.
func NewTriangle(a, b, c r3.Vec) Triangle {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	if l := r3.Norm(n); l > 0 {
		n = r3.Scale(1/l, n)
	}
	return Triangle{Normal: vec32(n), Vertex1: vec32(a), Vertex2: vec32(b), Vertex3: vec32(c)}
}

// Area returns the facet area
func (t Triangle) Area() float64 {
	v := func(p [3]float32) r3.Vec { return r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])} }
	a := v(t.Vertex1)
	return r3.Norm(r3.Cross(r3.Sub(v(t.Vertex2), a), r3.Sub(v(t.Vertex3), a))) / 2
}

// TriangulateRows triangulates sample rows that share their first column, as
// produced by sampling an element row by row. Row k holds rowLens[k] points taken
// consecutively from points; a row may be shorter than the one below it.
func TriangulateRows(points []r3.Vec, rowLens []int) ([]Triangle, error) {
	total := 0
	for _, n := range rowLens {
		total += n
	}
	if total != len(points) {
		return nil, fmt.Errorf("rows hold %d points, got %d", total, len(points))
	}

	var tris []Triangle
	start := 0
	for k := 0; k+1 < len(rowLens); k++ {
		a := points[start : start+rowLens[k]]
		b := points[start+rowLens[k] : start+rowLens[k]+rowLens[k+1]]
		start += rowLens[k]
		if len(a) == 0 || len(b) == 0 {
			continue
		}

		shared := min(len(a), len(b))
		for i := 0; i+1 < shared; i++ {
			tris = append(tris,
				NewTriangle(a[i], a[i+1], b[i+1]),
				NewTriangle(a[i], b[i+1], b[i]),
			)
		}
		// close the longer row against the last point of the shorter one
		for i := shared - 1; i+1 < len(a); i++ {
			tris = append(tris, NewTriangle(a[i], a[i+1], b[len(b)-1]))
		}
		for i := shared - 1; i+1 < len(b); i++ {
			tris = append(tris, NewTriangle(a[len(a)-1], b[i+1], b[i]))
		}
	}
	return tris, nil
}

// TriangulateGrid triangulates an n0 by n1 grid stored row by row
func TriangulateGrid(points []r3.Vec, n0, n1 int) ([]Triangle, error) {
	rows := make([]int, n1)
	for i := range rows {
		rows[i] = n0
	}
	return TriangulateRows(points, rows)
}

// triangleRows returns the row lengths of triangle element samples at density d
func triangleRows(d field.Density) []int {
	rows := make([]int, d[1])
	for j := range rows {
		eta := float64(j) / float64(d[1]-1)
		for i := 0; i < d[0]; i++ {
			if float64(i)/float64(d[0]-1)+eta <= 1+1e-12 {
				rows[j]++
			}
		}
	}
	return rows
}

// FromField triangulates the evaluation points of every element of f at density d
func FromField(f *field.Mesh, d field.Density) ([]Triangle, error) {
	points, err := f.Evaluate(d)
	if err != nil {
		return nil, err
	}
	ids := f.ElementIDs()
	epMap, err := f.ElementPointIndexMap(d, ids)
	if err != nil {
		return nil, err
	}

	triRows := triangleRows(d)
	var tris []Triangle
	for _, id := range ids {
		typ, _, _ := f.Element(id)
		r := epMap[id]
		var elemTris []Triangle
		if typ == field.Triangle3 {
			elemTris, err = TriangulateRows(points[r.Start:r.End], triRows)
		} else {
			elemTris, err = TriangulateGrid(points[r.Start:r.End], d[0], d[1])
		}
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", id, err)
		}
		tris = append(tris, elemTris...)
	}
	return tris, nil
}

// Fan closes the ordered ring around centre with one facet per ring edge
func Fan(centre r3.Vec, ring []r3.Vec) []Triangle {
	if len(ring) < 2 {
		return nil
	}
	tris := make([]Triangle, 0, len(ring))
	for i := range ring {
		tris = append(tris, NewTriangle(centre, ring[i], ring[(i+1)%len(ring)]))
	}
	return tris
}

// SaveToSTL writes the triangles as a binary STL file
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	if err := WriteSTL(file, triangles); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close STL file: %w", err)
	}
	return nil
}

// WriteSTL writes triangles to dst in binary STL format.
func WriteSTL(dst io.Writer, triangles []Triangle) error {
	w := bufio.NewWriter(dst)

	var header [80]byte
	copy(header[:], "femurmeasure binary STL")
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write STL header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return fmt.Errorf("failed to write triangle count: %w", err)
	}

	for _, t := range triangles {
		facet := struct {
			Normal, V1, V2, V3 [3]float32
			Attribute          uint16
		}{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3, 0}
		if err := binary.Write(w, binary.LittleEndian, facet); err != nil {
			return fmt.Errorf("failed to write triangle: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write STL file: %w", err)
	}
	return nil
}
