package locator

import (
	"context"
	"errors"
	"fmt"

	"dev/bravebird/form-submitter/pkg/models"
)

// Finder evaluates a single rule against the current page. An empty result with a nil error
// means the rule matched nothing.
type Finder[E any] interface {
	Find(ctx context.Context, rule Rule) ([]E, error)
}

// FinderFunc adapts a function to Finder
type FinderFunc[E any] func(ctx context.Context, rule Rule) ([]E, error)

func (f FinderFunc[E]) Find(ctx context.Context, rule Rule) ([]E, error) {
	return f(ctx, rule)
}

// Resolve returns the first element matched by the field's rules, trying them in order.
// It fails with ElementNotFound once every rule is exhausted.
func Resolve[E any](ctx context.Context, s Strategy, field FieldID, f Finder[E]) (E, error) {
	var zero E
	els, err := resolve(ctx, s, field, f)
	if err != nil {
		return zero, err
	}
	if len(els) == 0 {
		return zero, models.ElementNotFound(string(field), false, errors.New("no rule matched"))
	}
	return els[0], nil
}

// ResolveAll returns every element matched by the first rule that matches anything.
// No match is not an error; the result is empty.
func ResolveAll[E any](ctx context.Context, s Strategy, field FieldID, f Finder[E]) ([]E, error) {
	els, err := resolve(ctx, s, field, f)
	if err != nil {
		if models.IsKind(err, models.KindElementNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return els, nil
}

func resolve[E any](ctx context.Context, s Strategy, field FieldID, f Finder[E]) ([]E, error) {
	rules := s.Rules(field)
	if len(rules) == 0 {
		return nil, models.ElementNotFound(string(field), false, errors.New("no rules registered"))
	}

	var lastErr error
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		els, err := f.Find(ctx, rule)
		if err != nil {
			// A dead session or cancelled context won't recover on the next rule
			if ctx.Err() != nil || models.IsKind(err, models.KindSessionLost) {
				return nil, err
			}
			lastErr = fmt.Errorf("%s: %w", rule, err)
			continue
		}
		if len(els) > 0 {
			return els, nil
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%d rules matched nothing", len(rules))
	}
	return nil, models.ElementNotFound(string(field), false, lastErr)
}
