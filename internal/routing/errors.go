package routing

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below wrap one of these so callers can use errors.Is.
var (
	// ErrInvalidTopology is wrapped by InvalidTopologyError.
	ErrInvalidTopology = errors.New("routing: invalid topology")

	// ErrDisjunctionCardinality is wrapped by DisjunctionCardinalityError.
	ErrDisjunctionCardinality = errors.New("routing: disjunction cardinality")

	// ErrOverlappingWindows is returned when two cumul windows of one node intersect.
	ErrOverlappingWindows = errors.New("routing: overlapping windows")

	// ErrInvalidWindow is returned when a window has Min > Max or lies outside [0, capacity].
	ErrInvalidWindow = errors.New("routing: invalid window")

	// ErrUnknownDimension is returned when a dimension name is not registered.
	ErrUnknownDimension = errors.New("routing: unknown dimension")

	// ErrDuplicateDimension is returned when a dimension name is registered twice.
	ErrDuplicateDimension = errors.New("routing: duplicate dimension")

	// ErrInvalidPrecedence is returned for malformed pickup/delivery pairs.
	ErrInvalidPrecedence = errors.New("routing: invalid pickup/delivery pair")

	// ErrWarmStartInfeasible is wrapped by WarmStartError.
	ErrWarmStartInfeasible = errors.New("routing: warm start infeasible")

	// ErrUnboundedSearch is returned when guided local search has neither a time limit,
	// an iteration cap nor a context deadline.
	ErrUnboundedSearch = errors.New("routing: guided local search needs a time or iteration budget")

	// ErrInvalidOptions is returned for option values out of range.
	ErrInvalidOptions = errors.New("routing: invalid options")

	// ErrModelMismatch is returned when a Solution is used with a Model it was not built for.
	ErrModelMismatch = errors.New("routing: solution does not belong to model")

	// ErrFrozen is returned when a built Model, its Network or its Builder is changed.
	ErrFrozen = errors.New("routing: model is frozen")
)

// InvalidTopologyError reports an unknown node reference or a malformed arc cost matrix.
type InvalidTopologyError struct {
	Reason string
	From   int
	To     int
}

func (e *InvalidTopologyError) Error() string {
	if e.From >= 0 || e.To >= 0 {
		return fmt.Sprintf("routing: invalid topology: %s (from=%d to=%d)", e.Reason, e.From, e.To)
	}
	return "routing: invalid topology: " + e.Reason
}

func (e *InvalidTopologyError) Unwrap() error { return ErrInvalidTopology }

func topologyErr(reason string, from, to int) error {
	return &InvalidTopologyError{Reason: reason, From: from, To: to}
}

// DisjunctionCardinalityError reports a disjunction whose cardinality can never be honored.
type DisjunctionCardinalityError struct {
	Disjunction int
	Node        int
	Reason      string
}

func (e *DisjunctionCardinalityError) Error() string {
	return fmt.Sprintf("routing: disjunction %d: %s (node %d)", e.Disjunction, e.Reason, e.Node)
}

func (e *DisjunctionCardinalityError) Unwrap() error { return ErrDisjunctionCardinality }

// Constraint names reported by Violation and WarmStartError.
const (
	ConstraintDimension   = "dimension"
	ConstraintPrecedence  = "precedence"
	ConstraintDisjunction = "disjunction"
	ConstraintDuplicate   = "duplicate"
	ConstraintDepot       = "depot"
	ConstraintUnknownNode = "unknown-node"
	ConstraintVehicle     = "vehicle"
)

// Violation describes why a route failed the feasibility oracle.
type Violation struct {
	Constraint string
	Dimension  string
	Node       int
	Position   int
	Reason     string
}

func (v *Violation) String() string {
	if v.Dimension != "" {
		return fmt.Sprintf("%s %q at node %d: %s", v.Constraint, v.Dimension, v.Node, v.Reason)
	}
	return fmt.Sprintf("%s at node %d: %s", v.Constraint, v.Node, v.Reason)
}

// WarmStartError reports which constraint a caller-supplied route violates and where.
type WarmStartError struct {
	Vehicle    int
	Node       int
	Constraint string
	Dimension  string
	Reason     string
}

func (e *WarmStartError) Error() string {
	msg := fmt.Sprintf("routing: warm start infeasible: vehicle %d node %d: %s", e.Vehicle, e.Node, e.Constraint)
	if e.Dimension != "" {
		msg += fmt.Sprintf(" %q", e.Dimension)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *WarmStartError) Unwrap() error { return ErrWarmStartInfeasible }

func warmStartErr(vehicle int, v *Violation) error {
	return &WarmStartError{Vehicle: vehicle, Node: v.Node, Constraint: v.Constraint, Dimension: v.Dimension, Reason: v.Reason}
}
