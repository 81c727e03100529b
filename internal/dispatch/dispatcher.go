// Package dispatch implements the Dispatcher (C5): it validates the
// request message, selects the handler for the op-code, and returns the
// bound operation for the channel pipeline to invoke.
package dispatch

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/graphscript/evalserver/internal/domain"
)

// Handler is a bound operation the channel pipeline invokes with the
// request's execution context.
type Handler func(ctx domain.Context) error

// SelectOther is the subclass hook for op-codes beyond `eval`; concrete
// processors register handlers here instead of overriding Select directly
// (spec §9: "re-express as a handler registry").
type SelectOther func(msg domain.RequestMessage) (Handler, bool)

// Dispatcher routes `eval` to the handler passed to Select after validating
// the message, and any other op-code to the optional SelectOther hook; it
// keeps no registry of its own.
type Dispatcher struct {
	validate    *validator.Validate
	selectOther SelectOther
}

// New constructs a Dispatcher. selectOther may be nil, in which case any
// op-code other than `eval`/`invalid` is rejected as malformed.
func New(selectOther SelectOther) *Dispatcher {
	return &Dispatcher{validate: validator.New(), selectOther: selectOther}
}

// Select inspects msg.Op and returns the bound eval handler on success,
// or an error wrapping one of domain.ErrMalformedRequest /
// domain.ErrInvalidArguments (spec §4.1).
func (d *Dispatcher) Select(msg domain.RequestMessage, evalHandler Handler) (Handler, error) {
	switch msg.Op {
	case domain.OpEval:
		if err := d.validateEvalMessage(msg); err != nil {
			return nil, err
		}
		return evalHandler, nil
	case domain.OpInvalid:
		return nil, fmt.Errorf("%w: request %q could not be parsed", domain.ErrMalformedRequest, msg.RequestID)
	default:
		if d.selectOther != nil {
			if h, ok := d.selectOther(msg); ok {
				return h, nil
			}
		}
		return nil, fmt.Errorf("%w: unrecognized op-code %q", domain.ErrMalformedRequest, msg.Op)
	}
}

// evalRequestShape is the struct-tag-validated overlay of the minimal
// fields an eval request must carry, checked with validator/v10 before the
// bespoke binding-key checks run.
type evalRequestShape struct {
	RequestID string `validate:"required"`
	Gremlin   string `validate:"required"`
}

// validateEvalMessage enforces the invariants of §3/§4.1: gremlin present,
// bindings keys are non-null strings matching the identifier grammar and
// not in the reserved set.
func (d *Dispatcher) validateEvalMessage(msg domain.RequestMessage) error {
	script, ok := msg.Gremlin()
	if !ok || script == "" {
		return fmt.Errorf("%w: missing required argument %q", domain.ErrInvalidArguments, domain.ArgGremlin)
	}

	if err := d.validate.Struct(evalRequestShape{RequestID: msg.RequestID, Gremlin: script}); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidArguments, err.Error())
	}

	rawBindings, present := msg.Args[domain.ArgBindings]
	if !present {
		return nil
	}
	bindings, ok := rawBindings.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: %q must be a mapping from string to value", domain.ErrInvalidArguments, domain.ArgBindings)
	}
	for key := range bindings {
		if key == "" || !domain.IsValidBindingKey(key) {
			return fmt.Errorf("%w: binding key %q is not a valid identifier", domain.ErrInvalidArguments, key)
		}
		if domain.IsReservedBindingKey(key) {
			return fmt.Errorf("%w: binding key %q conflicts with a static import", domain.ErrInvalidArguments, key)
		}
	}
	return nil
}
