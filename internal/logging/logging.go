package logging

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// ContextKey defines the context key type.
type ContextKey string

// ContextIDKey holds the key of the context ID.
const ContextIDKey ContextKey = "ctx_id"

// WithContextID returns a new context carrying a fresh correlation ID under
// ContextIDKey. GetDeviceList, WarmUp and PerformNeededSyncs each call this
// once at entry and log the ID as ctx_id on their entry log line; the ID is
// carried in ctx down the C3/C4/C5 call chain, but the log lines emitted
// further down do not include it. CheckDuplicateData and
// CheckDuplicateJoin are synchronous, non-blocking, in-process lookups with
// no downstream call chain to correlate, so they don't participate.
func WithContextID(ctx context.Context) (context.Context, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return ctx, errors.Wrap(err, "new uuid error")
	}
	return context.WithValue(ctx, ContextIDKey, id), nil
}

// IDFromContext returns the correlation ID stored in ctx, or the nil UUID if
// none is set.
func IDFromContext(ctx context.Context) uuid.UUID {
	id, ok := ctx.Value(ContextIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
