// Package graph defines domain-specific errors
package graph

import "errors"

var (
	// Graph errors
	ErrInvalidGraphID   = errors.New("invalid graph ID")
	ErrInvalidGraphName = errors.New("invalid graph name")
	ErrNoStartStep      = errors.New("graph has no start step")
	ErrCyclicGraph      = errors.New("cyclic dependency detected")
	ErrUnreachableStep  = errors.New("step is unreachable from any start step")
	ErrGraphNotFound    = errors.New("graph not found")
	ErrGraphNotCompiled = errors.New("graph has not been compiled")
	ErrGraphSealed      = errors.New("graph is compiled and cannot be modified")

	// Step errors
	ErrNilStep           = errors.New("step cannot be nil")
	ErrInvalidStepID     = errors.New("invalid step ID")
	ErrInvalidStepName   = errors.New("invalid step name")
	ErrInvalidStepKind   = errors.New("invalid step kind")
	ErrStepNotFound      = errors.New("step not found")
	ErrDuplicateStep     = errors.New("duplicate step ID")
	ErrStartWithTrigger  = errors.New("start step cannot declare a trigger")
	ErrMissingTrigger    = errors.New("non-start step requires a trigger")
	ErrRouterNoLabels    = errors.New("router step must declare at least one label")
	ErrLabelsOnNonRouter = errors.New("only router steps may declare labels")
	ErrDuplicateLabel    = errors.New("router declares the same label twice")

	// Trigger errors
	ErrEmptyTrigger     = errors.New("trigger has no conditions")
	ErrAmbiguousTrigger = errors.New("trigger leaf must name exactly one step or label")
	ErrUnknownLabel     = errors.New("label is not declared by any router")

	// Edge errors
	ErrInvalidSource = errors.New("invalid source step")
	ErrInvalidTarget = errors.New("invalid target step")
	ErrMissingLabel  = errors.New("label edge requires a label")
	ErrSelfLoop      = errors.New("self-loops are not allowed")
	ErrDuplicateEdge = errors.New("duplicate edge")
)
