// Package inp reads and writes surface meshes in the ABAQUS/FEBio .inp text format.
//
// Only the subset needed to exchange femur meshes is supported: a comment header,
// *NODE blocks tagged with NSET and *ELEMENT blocks tagged with TYPE and ELSET.
// Each mesh is identified by its ELSET name.
package inp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/pkg/field"
)

const commentChars = "**"

// ElementNodes maps the supported element types to their node counts
var ElementNodes = map[string]int{
	"C3D8R": 8,
	"R3D3":  3,
	"R3D4":  4,
	"C3D4":  4,
	"T3D2":  2,
	"S3":    3,
	"S4":    4,
	"S9R5":  9,
}

var (
	// ErrMeshNotFound is returned when no ELSET or NSET carries the requested name
	ErrMeshNotFound = errors.New("mesh not found")

	// ErrUnsupportedElement is returned for element types missing from ElementNodes
	ErrUnsupportedElement = errors.New("unsupported element type")
)

// Mesh is one named node and element set of an .inp file
type Mesh struct {
	Name string

	NodeIDs []int
	Nodes   []r3.Vec

	ElemType string
	ElemIDs  []int
	Elems    [][]int
}

// Node returns the coordinates of the node with the given id
func (m *Mesh) Node(id int) (r3.Vec, bool) {
	for i, n := range m.NodeIDs {
		if n == id {
			return m.Nodes[i], true
		}
	}
	return r3.Vec{}, false
}

// Elem returns the node ids of the element with the given id
func (m *Mesh) Elem(id int) ([]int, bool) {
	for i, e := range m.ElemIDs {
		if e == id {
			return m.Elems[i], true
		}
	}
	return nil, false
}

// Field converts the mesh into a Lagrange surface field. Only 3, 4 and 9 node
// surface elements can be converted.
func (m *Mesh) Field() (*field.Mesh, error) {
	n, ok := ElementNodes[m.ElemType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedElement, m.ElemType)
	}
	if _, err := field.ElementTypeForNodes(n); err != nil {
		return nil, fmt.Errorf("mesh %s: element type %s is not a surface element: %w", m.Name, m.ElemType, err)
	}

	elems := make([]field.Element, len(m.Elems))
	for i, nodes := range m.Elems {
		elems[i] = field.Element{ID: m.ElemIDs[i], Nodes: nodes}
	}
	f, err := field.NewMesh(m.NodeIDs, m.Nodes, elems)
	if err != nil {
		return nil, fmt.Errorf("mesh %s: %w", m.Name, err)
	}
	return f, nil
}

// keyword splits a keyword line such as "*ELEMENT, TYPE=S4, ELSET=femur" into its
// upper case keyword and parameters. Parameter keys are upper cased, values are kept.
func keyword(line string) (string, map[string]string) {
	terms := strings.Split(line, ",")
	params := make(map[string]string, len(terms)-1)
	for _, t := range terms[1:] {
		k, v, _ := strings.Cut(t, "=")
		params[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return strings.ToUpper(strings.TrimSpace(terms[0])), params
}

func isKeyword(line string) bool {
	return strings.HasPrefix(line, "*") && !isComment(line)
}

func isComment(line string) bool {
	return strings.HasPrefix(line, commentChars)
}

// Reader reads meshes from an .inp file. Every call rescans the file.
type Reader struct {
	filename string
}

// NewReader creates a reader for the named file
func NewReader(filename string) *Reader {
	return &Reader{filename: filename}
}

func (r *Reader) lines() ([]string, error) {
	f, err := os.Open(r.filename)
	if err != nil {
		return nil, fmt.Errorf("error opening inp file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading inp file %s: %w", r.filename, err)
	}
	return lines, nil
}

// ReadHeader returns the comment lines at the top of the file, up to the first bare
// "**" line or the first non-comment line.
func (r *Reader) ReadHeader() ([]string, error) {
	lines, err := r.lines()
	if err != nil {
		return nil, err
	}
	var header []string
	for _, l := range lines {
		if !isComment(l) || strings.TrimSpace(l) == commentChars {
			break
		}
		header = append(header, strings.TrimSpace(l[len(commentChars):]))
	}
	return header, nil
}

// ReadMeshNames returns the sorted ELSET names of all element blocks
func (r *Reader) ReadMeshNames() ([]string, error) {
	lines, err := r.lines()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, l := range lines {
		if !isKeyword(l) {
			continue
		}
		kw, params := keyword(l)
		name, ok := params["ELSET"]
		if kw != "*ELEMENT" || !ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ReadMesh reads the element block whose ELSET is name and the node block whose NSET
// is name. Files with a single shared node block may name it differently; the first
// node block is used when no NSET matches.
func (r *Reader) ReadMesh(name string) (*Mesh, error) {
	lines, err := r.lines()
	if err != nil {
		return nil, err
	}

	nodeStart, elemStart := -1, -1
	firstNodes := -1
	var elemType string
	for i, l := range lines {
		if !isKeyword(l) {
			continue
		}
		kw, params := keyword(l)
		switch kw {
		case "*NODE":
			if firstNodes < 0 {
				firstNodes = i + 1
			}
			if nodeStart < 0 && params["NSET"] == name {
				nodeStart = i + 1
			}
		case "*ELEMENT":
			if elemStart < 0 && params["ELSET"] == name {
				elemStart = i + 1
				elemType = params["TYPE"]
			}
		}
	}
	if elemStart < 0 {
		return nil, fmt.Errorf("%w: no ELSET named %s", ErrMeshNotFound, name)
	}
	if nodeStart < 0 {
		nodeStart = firstNodes
	}
	if nodeStart < 0 {
		return nil, fmt.Errorf("%w: no NSET named %s", ErrMeshNotFound, name)
	}

	mesh := &Mesh{Name: name, ElemType: elemType}
	if err := readNodes(lines[nodeStart:], mesh); err != nil {
		return nil, fmt.Errorf("mesh %s: %w", name, err)
	}
	if err := readElems(lines[elemStart:], mesh); err != nil {
		return nil, fmt.Errorf("mesh %s: %w", name, err)
	}
	return mesh, nil
}

// ReadAllMeshes reads every mesh in the file, keyed by name
func (r *Reader) ReadAllMeshes() (map[string]*Mesh, error) {
	names, err := r.ReadMeshNames()
	if err != nil {
		return nil, err
	}
	meshes := make(map[string]*Mesh, len(names))
	for _, name := range names {
		m, err := r.ReadMesh(name)
		if err != nil {
			return nil, err
		}
		meshes[name] = m
	}
	return meshes, nil
}

func readNodes(lines []string, mesh *Mesh) error {
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || isComment(l) {
			continue
		}
		if isKeyword(l) {
			break
		}
		terms := strings.Split(l, ",")
		if len(terms) != 4 {
			return fmt.Errorf("node line %q: expected id and 3 coordinates", l)
		}
		id, err := strconv.Atoi(strings.TrimSpace(terms[0]))
		if err != nil {
			return fmt.Errorf("node line %q: %w", l, err)
		}
		var xyz [3]float64
		for k := range xyz {
			if xyz[k], err = strconv.ParseFloat(strings.TrimSpace(terms[k+1]), 64); err != nil {
				return fmt.Errorf("node line %q: %w", l, err)
			}
		}
		mesh.NodeIDs = append(mesh.NodeIDs, id)
		mesh.Nodes = append(mesh.Nodes, r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	return nil
}

// readElems reads element records, each an id followed by the element's node ids.
// A record may wrap over several lines.
func readElems(lines []string, mesh *Mesh) error {
	n, ok := ElementNodes[mesh.ElemType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedElement, mesh.ElemType)
	}

	var record []int
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if isComment(l) {
			continue
		}
		if isKeyword(l) {
			break
		}
		for _, t := range strings.Split(l, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			v, err := strconv.Atoi(t)
			if err != nil {
				return fmt.Errorf("element line %q: %w", l, err)
			}
			record = append(record, v)
			if len(record) == n+1 {
				mesh.ElemIDs = append(mesh.ElemIDs, record[0])
				mesh.Elems = append(mesh.Elems, append([]int(nil), record[1:]...))
				record = record[:0]
			}
		}
	}
	if len(record) != 0 {
		return fmt.Errorf("truncated %s element record %v", mesh.ElemType, record)
	}
	return nil
}

// Writer collects meshes and writes them to an .inp file
type Writer struct {
	filename string
	header   []string
	meshes   []*Mesh
}

// NewWriter creates a writer for the named file
func NewWriter(filename string) *Writer {
	return &Writer{filename: filename}
}

// AddHeader sets the comment lines written at the top of the file
func (w *Writer) AddHeader(lines ...string) {
	w.header = append(w.header, lines...)
}

// AddMesh queues a mesh for writing
func (w *Writer) AddMesh(m *Mesh) {
	w.meshes = append(w.meshes, m)
}

// Write writes the header and all meshes to the writer's file.
func (w *Writer) Write() error {
	if len(w.meshes) == 0 {
		return errors.New("no meshes defined")
	}

	file, err := os.Create(w.filename)
	if err != nil {
		return fmt.Errorf("error creating inp file: %w", err)
	}
	if err := w.Encode(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("error closing inp file: %w", err)
	}
	return nil
}

// Encode writes the header and meshes to dst. Counter columns are sized to the largest
// node and element ids.
func (w *Writer) Encode(dst io.Writer) error {
	if len(w.meshes) == 0 {
		return errors.New("no meshes defined")
	}

	out := bufio.NewWriter(dst)
	nodeWidth, elemWidth := w.counterWidths()

	if len(w.header) == 0 {
		fmt.Fprintln(out, commentChars)
	}
	for _, h := range w.header {
		fmt.Fprintf(out, "%s %s\n", commentChars, h)
	}
	fmt.Fprintln(out, commentChars)

	for _, m := range w.meshes {
		if len(m.Nodes) > 0 {
			fmt.Fprintf(out, "*NODE, NSET=%s\n", m.Name)
			for i, p := range m.Nodes {
				fmt.Fprintf(out, "%*d, %16.10f, %16.10f, %16.10f\n", nodeWidth, m.NodeIDs[i], p.X, p.Y, p.Z)
			}
			fmt.Fprintln(out, commentChars)
		}
		if len(m.Elems) > 0 {
			fmt.Fprintf(out, "*ELEMENT, TYPE=%s, ELSET=%s\n", m.ElemType, m.Name)
			for i, nodes := range m.Elems {
				fmt.Fprintf(out, "%*d", elemWidth, m.ElemIDs[i])
				for _, n := range nodes {
					fmt.Fprintf(out, ", %*d", nodeWidth, n)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, commentChars)
		}
	}

	if err := out.Flush(); err != nil {
		return fmt.Errorf("error writing inp file: %w", err)
	}
	return nil
}

func (w *Writer) counterWidths() (int, int) {
	maxNode, maxElem := 0, 0
	for _, m := range w.meshes {
		for _, id := range m.NodeIDs {
			maxNode = max(maxNode, id)
		}
		for _, id := range m.ElemIDs {
			maxElem = max(maxElem, id)
		}
	}
	return len(strconv.Itoa(maxNode)) + 1, len(strconv.Itoa(maxElem)) + 1
}
