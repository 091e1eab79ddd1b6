package measure

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"femurmeasure/internal/models"
	"femurmeasure/pkg/geometry"
)

// document is the on-disk form of a measurement set.
type document struct {
	Measurements []*models.Measurement `yaml:"measurements"`
}

// SaveMeasurements writes every computed record as YAML in dependency order. Floats
// are written in shortest round-trip form, so LoadMeasurements restores them exactly.
func (e *Engine) SaveMeasurements(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(document{Measurements: e.Measurements()}); err != nil {
		return fmt.Errorf("error encoding measurements: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("error encoding measurements: %w", err)
	}
	return nil
}

// LoadMeasurements replaces every record with those read from r and restores the
// shaft axis, neck axis and shaft frame they describe, so that dependent measurements
// can be computed without refitting.
func (e *Engine) LoadMeasurements(r io.Reader) error {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error decoding measurements: %w", err)
	}

	for _, m := range doc.Measurements {
		if m == nil || !e.graph.Has(m.Name) {
			name := "<nil>"
			if m != nil {
				name = m.Name
			}
			return &Error{Kind: ErrUnknownMeasurement, Name: name, Msg: "in measurement file"}
		}
	}

	e.invalidate()
	for _, m := range doc.Measurements {
		e.records[m.Name] = m
		if m.Failed() {
			e.errs[m.Name] = loadedError(m)
			continue
		}
		e.errs[m.Name] = nil
		if err := e.restore(m); err != nil {
			e.invalidate()
			return err
		}
	}
	return nil
}

// loadedError rebuilds the error of a failed record. Its message matches the one that
// was saved.
func loadedError(m *models.Measurement) *Error {
	kind := kindByName(m.Kind)
	msg := strings.TrimPrefix(m.Err, m.Name+": ")
	if kind != nil {
		msg = strings.TrimPrefix(msg, kind.Error()+": ")
	}
	return &Error{Kind: kind, Name: m.Name, Msg: msg}
}

func (e *Engine) restore(m *models.Measurement) error {
	vec := func(key string) (r3.Vec, error) {
		v, ok := m.Vectors[key]
		if !ok {
			return r3.Vec{}, fmt.Errorf("%s record has no %q vector", m.Name, key)
		}
		return v, nil
	}
	line := func() (*geometry.Line3D, error) {
		dir, err := vec("direction")
		if err != nil {
			return nil, err
		}
		p, err := vec("point")
		if err != nil {
			return nil, err
		}
		return &geometry.Line3D{Dir: dir, Point: p}, nil
	}

	var err error
	switch m.Name {
	case models.ShaftAxis:
		e.shaftAxis, err = line()
	case models.NeckAxis:
		e.neckAxis, err = line()
	case models.ShaftFrame:
		var f Frame
		if f.Origin, err = vec("origin"); err != nil {
			break
		}
		if f.X, err = vec("x"); err != nil {
			break
		}
		if f.Y, err = vec("y"); err != nil {
			break
		}
		if f.Z, err = vec("z"); err != nil {
			break
		}
		e.frame = &f
	}
	return err
}
