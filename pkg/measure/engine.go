// Package measure derives anthropometric measurements from a parametric femur surface.
//
// An Engine evaluates the field once at construction and computes measurements on
// demand. Measurements form a dependency graph: asking for the neck-shaft angle fits
// the shaft and neck axes first. Every step runs at most once until the field is
// transformed; failures are recorded and propagate to dependents as ErrPrerequisite,
// but never abort a sweep.
package measure

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/internal/models"
	"femurmeasure/pkg/config"
	"femurmeasure/pkg/field"
	"femurmeasure/pkg/geometry"
	"femurmeasure/pkg/optim"
	"femurmeasure/pkg/xsection"
)

// Params configures an Engine.
type Params struct {
	Regions config.Regions

	// Density is the EP density of every region lookup.
	Density field.Density
	// FrameDensity is the coarse density used for the shaft frame centre.
	FrameDensity field.Density

	// Search tunes the neck cross-section search.
	Search xsection.Options
	// EndOffset shortens the neck search segment at the head end.
	EndOffset float64

	// EpicondylarMethod is one of the config.Epicondylar* methods.
	EpicondylarMethod string

	// Minimizer drives the neck search and the box fit. Nil uses optim.NelderMead.
	Minimizer optim.Minimizer

	// Logger receives step progress. Nil discards.
	Logger *slog.Logger
}

// DefaultParams returns the parameters of config.DefaultConfig with the given regions.
func DefaultParams(regions config.Regions) Params {
	cfg := config.DefaultConfig()
	cfg.Regions = regions
	return ParamsFromConfig(cfg)
}

// ParamsFromConfig maps a loaded configuration onto engine parameters.
func ParamsFromConfig(cfg *config.Config) Params {
	search := xsection.DefaultOptions()
	search.AcceptanceDistance = cfg.NeckSearch.AcceptanceDistance
	search.Free.X = cfg.NeckSearch.FreeTolerance
	search.Free.F = cfg.NeckSearch.FreeTolerance
	search.Free.MaxEvaluations = cfg.NeckSearch.FreeMaxEvaluations
	search.Line.X = cfg.NeckSearch.LineTolerance
	search.Line.F = cfg.NeckSearch.LineTolerance
	search.Line.MaxEvaluations = cfg.NeckSearch.LineMaxEvaluations

	return Params{
		Regions:           cfg.Regions,
		Density:           field.Density(cfg.Field.Density),
		FrameDensity:      field.Density(cfg.Field.FrameDensity),
		Search:            search,
		EndOffset:         cfg.NeckSearch.EndOffset,
		EpicondylarMethod: cfg.Measurement.EpicondylarMethod,
	}
}

// Frame is the anatomical shaft coordinate system: Z along the shaft axis, X across
// the condyles and Y = Z × X pointing anteriorly or posteriorly depending on side.
type Frame struct {
	Origin r3.Vec
	X      r3.Vec
	Y      r3.Vec
	Z      r3.Vec
}

// ToLocal expresses p in frame coordinates.
func (f Frame) ToLocal(p r3.Vec) r3.Vec {
	d := r3.Sub(p, f.Origin)
	return r3.Vec{X: r3.Dot(d, f.X), Y: r3.Dot(d, f.Y), Z: r3.Dot(d, f.Z)}
}

// Engine computes femoral measurements over one GeometricField. It is not safe for
// concurrent use.
type Engine struct {
	field  field.GeometricField
	params Params
	log    *slog.Logger
	graph  *stepGraph
	steps  map[string]step

	ep      []r3.Vec
	epIndex *geometry.PointIndex

	records map[string]*models.Measurement
	errs    map[string]error

	shaftAxis   *geometry.Line3D
	neckAxis    *geometry.Line3D
	frame       *Frame
	neckSection *xsection.Section
}

// NewEngine validates the parameters, builds the measurement graph and evaluates the
// field. Region contents are not checked here: a region that does not fit the field
// fails only the measurements that use it.
func NewEngine(f field.GeometricField, p Params) (*Engine, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil field", ErrConfiguration)
	}
	if err := p.Density.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := p.FrameDensity.Validate(); err != nil {
		return nil, fmt.Errorf("%w: frame %v", ErrConfiguration, err)
	}
	if p.Search.AcceptanceDistance <= 0 {
		return nil, configf("acceptance distance must be positive")
	}
	if p.Minimizer == nil {
		p.Minimizer = optim.NelderMead{}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	steps, err := stepsFor(p.EpicondylarMethod)
	if err != nil {
		return nil, err
	}
	deps := make(map[string][]string, len(steps))
	for name, s := range steps {
		deps[name] = s.deps
	}
	g, err := newStepGraph(deps)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		field:  f,
		params: p,
		log:    logger,
		graph:  g,
		steps:  steps,
	}
	if err := e.evaluate(); err != nil {
		return nil, err
	}
	e.invalidate()
	return e, nil
}

func (e *Engine) evaluate() error {
	ep, err := e.field.Evaluate(e.params.Density)
	if err != nil {
		return fmt.Errorf("evaluating field: %w", err)
	}
	e.ep = ep
	e.epIndex = nil
	return nil
}

func (e *Engine) invalidate() {
	e.records = make(map[string]*models.Measurement)
	e.errs = make(map[string]error)
	e.shaftAxis = nil
	e.neckAxis = nil
	e.frame = nil
	e.neckSection = nil
}

// Names returns every measurement name in dependency order.
func (e *Engine) Names() []string {
	return e.graph.Order()
}

// Compute runs the named measurement and, first, any of its dependencies that have not
// run yet. Results are cached: a second call returns the recorded outcome without
// recomputing.
func (e *Engine) Compute(name string) error {
	if !e.graph.Has(name) {
		return &Error{Kind: ErrUnknownMeasurement, Name: name, Msg: "not a measurement"}
	}
	if _, done := e.records[name]; done {
		return e.errs[name]
	}

	for _, d := range e.graph.Deps(name) {
		if err := e.Compute(d); err != nil {
			perr := &Error{
				Kind: ErrPrerequisite,
				Name: name,
				Msg:  fmt.Sprintf("%s failed", d),
				Err:  err,
			}
			e.fail(&models.Measurement{Name: name}, perr)
			return perr
		}
	}

	m := &models.Measurement{Name: name}
	start := time.Now()
	e.log.Debug("computing", "measurement", name)
	if err := e.steps[name].run(e, m); err != nil {
		serr := stepError(name, err)
		e.fail(m, serr)
		e.log.Warn("measurement failed", "measurement", name, "elapsed", time.Since(start), "err", serr)
		return serr
	}
	e.records[name] = m
	e.errs[name] = nil
	e.log.Info("measured", "measurement", name, "value", m.Value, "elapsed", time.Since(start))
	for _, w := range m.Warnings {
		e.log.Warn(w, "measurement", name)
	}
	return nil
}

func (e *Engine) fail(m *models.Measurement, err *Error) {
	m.Err = err.Error()
	m.Kind = kindName(err.Kind)
	e.records[m.Name] = m
	e.errs[m.Name] = err
}

// ComputeAll computes every measurement in dependency order and returns the outcome of
// each. A failure never stops the sweep.
func (e *Engine) ComputeAll() map[string]error {
	out := make(map[string]error, len(e.steps))
	for _, name := range e.graph.Order() {
		out[name] = e.Compute(name)
	}
	return out
}

// Measurement returns the record of name, computing it if needed. A failed step
// returns its record, carrying the error marker, together with the error.
func (e *Engine) Measurement(name string) (*models.Measurement, error) {
	err := e.Compute(name)
	if errors.Is(err, ErrUnknownMeasurement) {
		return nil, err
	}
	return e.records[name], err
}

// Measurements returns the computed records in dependency order.
func (e *Engine) Measurements() []*models.Measurement {
	var out []*models.Measurement
	for _, name := range e.graph.Order() {
		if m, ok := e.records[name]; ok {
			out = append(out, m)
		}
	}
	return out
}

// EvaluationPoints returns the current EP. The slice must not be modified.
func (e *Engine) EvaluationPoints() []r3.Vec {
	return e.ep
}

// ShaftAxis returns the fitted shaft axis, computing it if needed.
func (e *Engine) ShaftAxis() (geometry.Line3D, error) {
	if err := e.Compute(models.ShaftAxis); err != nil {
		return geometry.Line3D{}, err
	}
	return *e.shaftAxis, nil
}

// NeckAxis returns the refined neck axis, computing it if needed.
func (e *Engine) NeckAxis() (geometry.Line3D, error) {
	if err := e.Compute(models.NeckAxis); err != nil {
		return geometry.Line3D{}, err
	}
	return *e.neckAxis, nil
}

// ShaftFrame returns the shaft coordinate frame, computing it if needed.
func (e *Engine) ShaftFrame() (Frame, error) {
	if err := e.Compute(models.ShaftFrame); err != nil {
		return Frame{}, err
	}
	return *e.frame, nil
}

// NeckSection returns the neck cross-section found by the last neck axis fit. It is
// nil when the axis was loaded from a file or the search fell back to the rough axis.
func (e *Engine) NeckSection() *xsection.Section {
	return e.neckSection
}
