package messaging

import (
	"context"
	"errors"
)

// OrderEventsTopic carries every order lifecycle event.
const OrderEventsTopic = "order.events"

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Fanout delivers each event to every publisher in order. A failing
// publisher does not stop the rest; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, key string, event any) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, key, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
