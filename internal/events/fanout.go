package events

import (
	"context"
	"errors"
)

// Fanout runs every handler for an entry. The entry only counts as
// delivered when all of them succeed, so one failing sink keeps it pending
// and the others may see it again.
type Fanout []DeliveryHandler

func (f Fanout) Handle(ctx context.Context, entry OutboxEntry) error {
	var errs []error
	for _, h := range f {
		if h == nil {
			continue
		}
		if err := h.Handle(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnlyTypes wraps h so it only sees the listed event types.
func OnlyTypes(h DeliveryHandler, types ...string) DeliveryHandler {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return DeliveryHandlerFunc(func(ctx context.Context, entry OutboxEntry) error {
		if _, ok := allowed[entry.Type]; !ok {
			return nil
		}
		return h.Handle(ctx, entry)
	})
}
