package models

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Names of the canonical femoral measurements
const (
	ShaftAxis               = "shaft_axis"
	NeckAxis                = "neck_axis"
	ShaftFrame              = "shaft_frame"
	HeadDiameter            = "head_diameter"
	NeckWidth               = "neck_width"
	NeckDiameter            = "neck_diameter"
	NeckShaftAngle          = "neck_shaft_angle"
	FemoralAxisLength       = "femoral_axis_length"
	LengthLong              = "length_long"
	LengthShort             = "length_short"
	SubtrochantericDiameter = "subtrochanteric_diameter"
	SubtrochantericWidth    = "subtrochanteric_width"
	MidshaftDiameter        = "midshaft_diameter"
	MidshaftWidth           = "midshaft_width"
	EpicondylarWidth        = "epicondylar_width"
	AnteversionAngle        = "anteversion_angle"
)

// Measurement is the result of one step of the measurement engine
type Measurement struct {
	// Name identifies the measurement, one of the constants above
	Name string `yaml:"name"`

	// Value is the scalar result in mm or degrees. The shaft axis records its fit
	// residual and the neck axis its mean cross-section radius.
	Value float64 `yaml:"value"`

	// Vectors holds auxiliary points and directions such as fitted centres,
	// axis endpoints and footprint intercepts
	Vectors map[string]r3.Vec `yaml:"vectors,omitempty"`

	// Indices holds provenance EP indices, for example the head point closest to the
	// neck axis
	Indices map[string]int `yaml:"indices,omitempty"`

	// Warnings lists non-fatal conditions met while computing the value
	Warnings []string `yaml:"warnings,omitempty"`

	// Err is the failure marker of a step that could not be computed
	Err string `yaml:"error,omitempty"`

	// Kind names the class of failure, such as configuration or prerequisite
	Kind string `yaml:"kind,omitempty"`
}

// Failed reports whether the measurement carries an error marker
func (m *Measurement) Failed() bool {
	return m.Err != ""
}

// SetVector records an auxiliary vector
func (m *Measurement) SetVector(name string, v r3.Vec) {
	if m.Vectors == nil {
		m.Vectors = make(map[string]r3.Vec)
	}
	m.Vectors[name] = v
}

// SetIndex records a provenance EP index
func (m *Measurement) SetIndex(name string, i int) {
	if m.Indices == nil {
		m.Indices = make(map[string]int)
	}
	m.Indices[name] = i
}
