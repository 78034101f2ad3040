package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONDITION VALIDATORS - Pluggable eligibility strategies
// =============================================================================

// ConditionValidator checks whether a user satisfies a condition threshold.
// An error means the check could not be performed (data source down, timed
// out) and is surfaced as ErrTransient; it never means "not eligible".
type ConditionValidator interface {
	Validate(ctx context.Context, userID ID, threshold decimal.Decimal) (bool, error)
}

// ValidatorFunc adapts a function to ConditionValidator.
type ValidatorFunc func(ctx context.Context, userID ID, threshold decimal.Decimal) (bool, error)

func (f ValidatorFunc) Validate(ctx context.Context, userID ID, threshold decimal.Decimal) (bool, error) {
	return f(ctx, userID, threshold)
}

// Registry is a dispatch table from condition type to strategy.
// Strategies are registered at process startup; lookups are concurrent-safe.
type Registry struct {
	mu         sync.RWMutex
	validators map[ConditionType]ConditionValidator
}

func NewRegistry() *Registry {
	return &Registry{validators: make(map[ConditionType]ConditionValidator)}
}

// Register installs v for conditionType, replacing any previous strategy.
func (r *Registry) Register(conditionType ConditionType, v ConditionValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[conditionType] = v
}

// Resolve returns the strategy for conditionType. Unknown tags fail with
// ErrUnsupportedCondition (kind ErrFailedPrecondition).
func (r *Registry) Resolve(conditionType ConditionType) (ConditionValidator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[conditionType]
	if !ok {
		return nil, &Error{
			Kind:    ErrFailedPrecondition,
			Op:      "resolve_validator",
			Message: "no validator registered for condition type " + string(conditionType),
			Err:     ErrUnsupportedCondition,
		}
	}
	return v, nil
}

// Types lists registered condition types in lexical order.
func (r *Registry) Types() []ConditionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]ConditionType, 0, len(r.validators))
	for t := range r.validators {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
