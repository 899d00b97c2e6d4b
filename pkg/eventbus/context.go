package eventbus

import (
	"context"

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
)

type envelopeKey struct{}

// withEnvelope attaches a copy of env to ctx for handlers.
func withEnvelope(ctx context.Context, env *event.StoredEnvelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env.Clone())
}

// EnvelopeFromContext returns the envelope being dispatched. It is only set
// inside handlers. The returned value is a copy.
func EnvelopeFromContext(ctx context.Context) (*event.StoredEnvelope, bool) {
	env, ok := ctx.Value(envelopeKey{}).(*event.StoredEnvelope)
	if !ok {
		return nil, false
	}
	return env.Clone(), true
}

// MetadataFromContext returns the metadata of the envelope being
// dispatched. Handlers use it to derive follow-up events with
// event.NewFromParent.
func MetadataFromContext(ctx context.Context) (event.Metadata, bool) {
	env, ok := ctx.Value(envelopeKey{}).(*event.StoredEnvelope)
	if !ok {
		return event.Metadata{}, false
	}
	return env.Metadata.Clone(), true
}
