package intake

import (
	"context"
	"runtime/debug"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"

	"github.com/spec-kit/support-bridge/internal/domain"
	"github.com/spec-kit/support-bridge/internal/observability"
	"github.com/spec-kit/support-bridge/internal/session"
)

// Handler consumes admitted updates.
type Handler interface {
	Handle(ctx context.Context, update domain.Update) error
}

// Intake normalizes, deduplicates and forwards updates.
type Intake struct {
	normalizer *Normalizer
	deduper    session.Deduper
	handler    Handler
	throttler  *Throttler
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// New wires the intake pipeline.
func New(normalizer *Normalizer, deduper session.Deduper, handler Handler, metrics *observability.Metrics, logger *zap.Logger) *Intake {
	return &Intake{normalizer: normalizer, deduper: deduper, handler: handler, metrics: metrics, logger: logger}
}

// SetThrottler enables per-user throttling of private-chat messages. Nil disables it.
func (in *Intake) SetThrottler(t *Throttler) {
	in.throttler = t
}

// Process runs one raw update through the pipeline. It returns ErrMalformed for
// uninterpretable input; bridge failures are logged and swallowed so the platform
// does not redeliver updates the bridge already gave up on.
func (in *Intake) Process(ctx context.Context, raw telego.Update) error {
	update, ok, err := in.normalizer.Normalize(raw)
	if err != nil {
		in.logger.Warn("rejecting malformed update", zap.Int("update_id", raw.UpdateID), zap.Error(err))
		return err
	}
	if !ok {
		in.metrics.Inc(observability.CounterUpdatesIgnored)
		return nil
	}

	fresh, err := in.deduper.MarkSeen(ctx, update.ID)
	if err != nil {
		// Fail open: a replay is cheaper than a lost message.
		in.logger.Warn("dedupe unavailable", zap.Int64("update_id", update.ID), zap.Error(err))
		fresh = true
	}
	if !fresh {
		in.metrics.Inc(observability.CounterUpdatesDuplicate)
		in.logger.Debug("duplicate update dropped", zap.Int64("update_id", update.ID))
		return nil
	}

	if userID := update.UserID(); userID != 0 && throttled(update.Event) && !in.throttler.Allow(userID) {
		in.metrics.Inc(observability.CounterUpdatesThrottled)
		in.logger.Warn("user throttled", zap.Int64("update_id", update.ID), zap.Int64("user_id", userID))
		return nil
	}

	in.metrics.Inc(observability.CounterUpdatesAdmitted)
	if err := in.handler.Handle(ctx, update); err != nil {
		in.metrics.Inc(observability.CounterUpdatesDropped)
		in.logger.Error("update dropped",
			zap.Int64("update_id", update.ID),
			zap.String("kind", string(update.Event.Kind())),
			zap.Error(err))
	}
	return nil
}

// Poll feeds every update from the channel into Process until it closes.
func (in *Intake) Poll(ctx context.Context, updates <-chan telego.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-updates:
			if !ok {
				return nil
			}
			in.processRecovered(ctx, raw)
		}
	}
}

// processRecovered keeps the polling loop alive when the bridge panics on one update.
func (in *Intake) processRecovered(ctx context.Context, raw telego.Update) {
	defer func() {
		if r := recover(); r != nil {
			in.metrics.Inc(observability.CounterUpdatesDropped)
			in.logger.Error("panic while processing update",
				zap.Int("update_id", raw.UpdateID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	_ = in.Process(ctx, raw)
}

// throttled reports whether ev counts against the sender's rate. Edits and
// deletions only touch messages already admitted.
func throttled(ev domain.Event) bool {
	switch ev.(type) {
	case domain.NewMessage, domain.Command:
		return true
	}
	return false
}
