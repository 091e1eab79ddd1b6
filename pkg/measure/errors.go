package measure

import (
	"errors"
	"fmt"

	"femurmeasure/pkg/geometry"
	"femurmeasure/pkg/xsection"
)

var (
	// ErrConfiguration reports a region or parameter that does not fit the field,
	// such as an element id absent from the evaluation point map.
	ErrConfiguration = errors.New("configuration error")
	// ErrPrerequisite reports that a measurement could not run because one of its
	// dependencies failed.
	ErrPrerequisite = errors.New("prerequisite failed")
	// ErrUnknownMeasurement reports a name outside the measurement graph.
	ErrUnknownMeasurement = errors.New("unknown measurement")
	// ErrGeometricFit reports a degenerate point set passed to a fit.
	ErrGeometricFit = geometry.ErrDegenerate
)

// Error is a failed measurement step.
//
// Kind is one of the sentinel errors of this package, geometry.ErrDegenerate,
// xsection.ErrConvergence or xsection.ErrEmptyFootprint, and is matched by errors.Is.
type Error struct {
	Kind error
	Name string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Kind != nil {
		return fmt.Sprintf("%s: %v: %s", e.Name, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Name, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// kinds are checked in order; the first match becomes Error.Kind. name is the form
// written to measurement files.
var kinds = []struct {
	err  error
	name string
}{
	{ErrConfiguration, "configuration"},
	{ErrPrerequisite, "prerequisite"},
	{ErrUnknownMeasurement, "unknown_measurement"},
	{geometry.ErrDegenerate, "geometric_fit"},
	{xsection.ErrEmptyFootprint, "empty_footprint"},
	{xsection.ErrConvergence, "convergence"},
}

func kindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err
		}
	}
	return nil
}

func kindName(kind error) string {
	for _, k := range kinds {
		if k.err == kind {
			return k.name
		}
	}
	return ""
}

func kindByName(name string) error {
	for _, k := range kinds {
		if k.name == name {
			return k.err
		}
	}
	return nil
}

func stepError(name string, err error) *Error {
	var me *Error
	if errors.As(err, &me) && me.Name == name {
		return me
	}
	return &Error{Kind: kindOf(err), Name: name, Err: err}
}

func configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
