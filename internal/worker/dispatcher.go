package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/support-bridge/internal/config"
	"github.com/spec-kit/support-bridge/internal/observability"
	"github.com/spec-kit/support-bridge/internal/platform"
)

// ErrClosed is returned by Close when called twice.
var ErrClosed = errors.New("worker: dispatcher closed")

// Dispatcher executes actions against the platform. Actions sharing a lane run
// one at a time in admission order; lanes run concurrently up to Workers.
type Dispatcher struct {
	platform platform.Platform
	cfg      config.DispatchConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	limiter  *rate.Limiter
	sem      chan struct{}
	keys     *expirable.LRU[string, struct{}]

	baseCtx context.Context
	abort   context.CancelFunc

	mu      sync.Mutex
	lanes   map[string][]Action
	handler ResultHandler
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher builds a dispatcher. Call SetResultHandler before the first Enqueue.
func NewDispatcher(p platform.Platform, cfg config.DispatchConfig, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.IdempotencySize <= 0 {
		cfg.IdempotencySize = 50000
	}
	if cfg.IdempotencyWindow <= 0 {
		cfg.IdempotencyWindow = 10 * time.Minute
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		platform: p,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		limiter:  rate.NewLimiter(limit, burst),
		sem:      make(chan struct{}, cfg.Workers),
		keys:     expirable.NewLRU[string, struct{}](cfg.IdempotencySize, nil, cfg.IdempotencyWindow),
		baseCtx:  ctx,
		abort:    cancel,
		lanes:    make(map[string][]Action),
	}
}

// SetResultHandler installs the callback for final outcomes.
func (d *Dispatcher) SetResultHandler(h ResultHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// Enqueue admits actions without blocking and returns how many were accepted.
// Actions whose key succeeded or is in flight within the window are dropped.
func (d *Dispatcher) Enqueue(actions ...Action) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("enqueue after close", zap.Int("actions", len(actions)))
		return 0
	}

	accepted := 0
	for _, a := range actions {
		if a.Key != "" {
			if d.keys.Contains(a.Key) {
				d.metrics.Inc(observability.CounterActionsDuplicate)
				d.logger.Debug("duplicate action dropped", zap.String("key", a.Key))
				continue
			}
			d.keys.Add(a.Key, struct{}{})
		}

		lane := a.LaneKey()
		queue, running := d.lanes[lane]
		d.lanes[lane] = append(queue, a)
		if !running {
			d.wg.Add(1)
			go d.runLane(lane)
		}
		accepted++
		d.metrics.Inc(observability.CounterActionsEnqueued)
	}
	return accepted
}

// Pending returns the number of queued actions that have not started.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.lanes {
		n += len(q)
	}
	return n
}

// Run blocks until ctx is done, then drains for at most drainTimeout.
func (d *Dispatcher) Run(ctx context.Context, drainTimeout time.Duration) error {
	<-ctx.Done()
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return d.Close(drainCtx)
}

// Close stops admission and waits for queued actions. When ctx expires first,
// in-flight attempts are aborted and their actions reported as failed.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.abort()
		return nil
	case <-ctx.Done():
		d.abort()
		<-done
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) runLane(lane string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.lanes[lane]
		if len(queue) == 0 {
			delete(d.lanes, lane)
			d.mu.Unlock()
			return
		}
		a := queue[0]
		queue[0] = Action{}
		d.lanes[lane] = queue[1:]
		handler := d.handler
		d.mu.Unlock()

		res := d.process(a)
		if !res.OK() {
			d.keys.Remove(a.Key)
		}
		if handler != nil {
			handler.OnActionResult(d.baseCtx, res)
		}
	}
}

func (d *Dispatcher) process(a Action) Result {
	ctx := d.baseCtx
	res := Result{Action: a}

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		res.Err = ctx.Err()
		d.report(res)
		return res
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialBackoff
	policy.MaxInterval = d.cfg.MaxBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2
	policy.MaxElapsedTime = 0
	policy.Reset()

	resolved := a.Resolve == nil
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		if err := d.limiter.Wait(ctx); err != nil {
			res.Err = err
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.ActionTimeout)
		var err error
		if !resolved {
			if err = a.Resolve(attemptCtx, &a); err == nil {
				resolved = true
				res.Action = a
			}
		}
		if err == nil {
			err = d.execute(attemptCtx, a, &res)
		}
		cancel()

		if err == nil {
			res.Err = nil
			break
		}
		res.Err = err
		if isPermanent(err) || attempt >= d.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		wait := policy.NextBackOff()
		if retryAfter, ok := platform.RetryAfter(err); ok && retryAfter > wait {
			wait = retryAfter
		}
		d.metrics.Inc(observability.CounterActionsRetried)
		d.logger.Info("retrying action",
			zap.String("key", a.Key),
			zap.String("kind", string(a.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			res.Err = fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	d.report(res)
	return res
}

func (d *Dispatcher) execute(ctx context.Context, a Action, res *Result) error {
	switch a.Kind {
	case ActionCreateTopic:
		topicID, err := d.platform.CreateTopic(ctx, a.Target.ChatID, a.Title)
		if err != nil {
			return err
		}
		res.TopicID = topicID
		return nil
	case ActionSendMessage:
		if a.Target.ChatID == 0 {
			return ErrTopicUnavailable
		}
		messageID, err := d.platform.SendMessage(ctx, platform.OutboundMessage{
			ChatID:    a.Target.ChatID,
			ThreadID:  a.Target.ThreadID,
			Text:      a.Text,
			CopyFrom:  a.CopyFrom,
			ReplyToID: a.ReplyToID,
		})
		if err != nil {
			return err
		}
		res.MessageID = messageID
		return nil
	case ActionEditMessage:
		return d.platform.EditMessage(ctx, platform.MessageEdit{
			ChatID:    a.Target.ChatID,
			MessageID: a.Target.MessageID,
			Text:      a.Text,
			Caption:   a.Caption,
		})
	case ActionDeleteMessage:
		deleter, ok := d.platform.(platform.MessageDeleter)
		if !ok {
			return platform.ErrUnsupported
		}
		return deleter.DeleteMessage(ctx, a.Target.ChatID, a.Target.MessageID)
	case ActionCloseTopic:
		return d.platform.CloseTopic(ctx, a.Target.ChatID, a.Target.ThreadID)
	case ActionReopenTopic:
		reopener, ok := d.platform.(platform.TopicReopener)
		if !ok {
			return platform.ErrUnsupported
		}
		return reopener.ReopenTopic(ctx, a.Target.ChatID, a.Target.ThreadID)
	case ActionEditTopic:
		editor, ok := d.platform.(platform.TopicEditor)
		if !ok {
			return platform.ErrUnsupported
		}
		return editor.EditTopic(ctx, a.Target.ChatID, a.Target.ThreadID, a.Title)
	default:
		return fmt.Errorf("unknown action kind %q: %w", a.Kind, platform.ErrUnsupported)
	}
}

func (d *Dispatcher) report(res Result) {
	a := res.Action
	if res.OK() {
		d.metrics.Inc(observability.CounterActionsSucceeded)
		d.logger.Debug("action delivered",
			zap.String("key", a.Key),
			zap.String("kind", string(a.Kind)),
			zap.Int("attempts", res.Attempts))
		return
	}
	if errors.Is(res.Err, ErrMirrorNotFound) {
		d.metrics.Inc(observability.CounterMirrorMissed)
	}
	d.metrics.Inc(observability.CounterActionsFailed)
	d.logger.Warn("action failed",
		zap.String("key", a.Key),
		zap.String("kind", string(a.Kind)),
		zap.String("ticket_id", a.TicketID),
		zap.Int("attempts", res.Attempts),
		zap.Bool("permanent", isPermanent(res.Err)),
		zap.Error(res.Err))
}

func isPermanent(err error) bool {
	return platform.IsPermanent(err) || errors.Is(err, ErrMirrorNotFound) || errors.Is(err, ErrTopicUnavailable)
}
