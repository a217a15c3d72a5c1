package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/msgweave/internal/model"
	"github.com/roach88/msgweave/internal/store"
)

// Engine reconciles out-of-order payloads into per-discussion timelines.
//
// Every public operation is one small atomic step: it takes the
// discussion's mutex, runs inside one store transaction, and publishes its
// notifications only after the transaction committed.
//
// Thread-safety model:
//   - All operations: safe from any goroutine
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	store    *store.Store
	settings Settings
	seq      *Clock
	clock    WallClock
	ids      IDGenerator
	notifier Notifier
	logger   *slog.Logger
	metrics  *Metrics
	registry prometheus.Registerer
	locks    *discussionLocks
	queue    *eventQueue
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithSettings replaces the default policies.
func WithSettings(s Settings) Option {
	return func(e *Engine) {
		e.settings = s
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithWallClock sets the time source for deadlines and cutoffs.
func WithWallClock(c WallClock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the permanent id generator. Default: UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithNotifier sets the downstream event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithSeqClock resumes notification numbering from a known clock.
func WithSeqClock(c *Clock) Option {
	return func(e *Engine) {
		e.seq = c
	}
}

// WithRegisterer exports the engine metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// New creates an Engine over an open store.
func New(s *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:    s,
		settings: DefaultSettings(),
		seq:      NewClock(),
		clock:    SystemClock{},
		ids:      UUIDv7Generator{},
		notifier: discardNotifier{},
		logger:   slog.Default(),
		metrics:  newMetrics(),
		locks:    newDiscussionLocks(),
		queue:    newEventQueue(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if err := e.settings.Validate(); err != nil {
		return nil, fmt.Errorf("engine settings: %w", err)
	}
	if e.registry != nil {
		e.metrics.register(e.registry, func() float64 { return float64(e.queue.Len()) })
	}
	return e, nil
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Settings returns the engine-wide policies.
func (e *Engine) Settings() Settings {
	return e.settings
}

// op is the state of one step: the open transaction, the discussion it is
// scoped to, and the notifications to publish after commit.
type op struct {
	e      *Engine
	ctx    context.Context
	tx     *store.Tx
	disc   model.Discussion
	now    time.Time
	events []model.Notification

	// inProgress guards against re-entrant reconciliation of one message.
	inProgress map[uuid.UUID]bool
}

func (o *op) logger() *slog.Logger {
	return o.e.logger
}

func (o *op) notify(kind model.NotificationKind, m *model.Message) {
	n := model.Notification{Kind: kind, DiscussionID: m.DiscussionID, PermanentID: m.PermanentID}
	if kind == model.NotifyDeliveryStatusChanged && m.Sent != nil {
		n.Status = m.Sent.Status
	}
	o.events = append(o.events, n)
}

func (o *op) notifyDeleted(m *model.Message, kind model.DeletionKind) {
	o.events = append(o.events, model.Notification{
		Kind:         model.NotifyMessageDeleted,
		DiscussionID: m.DiscussionID,
		PermanentID:  m.PermanentID,
		Deletion:     kind,
	})
}

// withDiscussion runs fn as one step on the discussion.
func (e *Engine) withDiscussion(ctx context.Context, discussionID int64, name string, fn func(o *op) error) error {
	mu := e.locks.get(discussionID)
	mu.Lock()
	defer mu.Unlock()

	var o *op
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		disc, err := tx.GetDiscussion(ctx, discussionID)
		if store.IsNotFound(err) {
			return NewReferentialError(discussionID, "unknown discussion")
		}
		if err != nil {
			return fmt.Errorf("load discussion %d: %w", discussionID, err)
		}
		o = &op{
			e:          e,
			ctx:        ctx,
			tx:         tx,
			disc:       disc,
			now:        e.clock.Now(),
			inProgress: make(map[uuid.UUID]bool),
		}
		return fn(o)
	})
	if err != nil {
		return e.handle(name, err)
	}

	e.publish(o.events)
	return nil
}

// handle applies the error policy: referential errors and policy
// rejections are dropped, everything else is returned.
func (e *Engine) handle(name string, err error) error {
	switch {
	case IsReferential(err):
		e.metrics.Dropped.WithLabelValues(string(ErrCodeReferential)).Inc()
		e.logger.Debug("payload dropped", "op", name, "reason", err)
		return nil
	case IsPolicyRejection(err):
		e.metrics.Dropped.WithLabelValues(string(ErrCodePolicyRejected)).Inc()
		e.logger.Info("payload rejected", "op", name, "reason", err)
		return nil
	case IsInvariantViolation(err):
		e.logger.Error("invariant violation, step rolled back", "op", name, "error", err)
		return err
	default:
		return fmt.Errorf("%s: %w", name, err)
	}
}

func (e *Engine) publish(events []model.Notification) {
	for _, n := range events {
		n.Seq = e.seq.Next()
		e.metrics.Notifications.WithLabelValues(string(n.Kind)).Inc()
		e.notifier.Notify(n)
	}
}

// messageDiscussion resolves the discussion of a stored message.
func (e *Engine) messageDiscussion(ctx context.Context, permanentID uuid.UUID) (int64, error) {
	var discussionID int64
	err := e.store.View(ctx, func(tx *store.Tx) error {
		m, err := tx.FindMessageByPermanentID(ctx, permanentID)
		if err != nil {
			return err
		}
		if m == nil {
			return NewReferentialError(0, "unknown message %s", permanentID)
		}
		discussionID = m.DiscussionID
		return nil
	})
	return discussionID, err
}

// withMessage runs fn as one step on the discussion of a stored message.
func (e *Engine) withMessage(ctx context.Context, permanentID uuid.UUID, name string, fn func(o *op, m *model.Message) error) error {
	discussionID, err := e.messageDiscussion(ctx, permanentID)
	if err != nil {
		return e.handle(name, err)
	}
	return e.withDiscussion(ctx, discussionID, name, func(o *op) error {
		m, err := o.tx.FindMessageByPermanentID(o.ctx, permanentID)
		if err != nil {
			return err
		}
		if m == nil {
			return NewReferentialError(discussionID, "message %s vanished", permanentID)
		}
		return fn(o, m)
	})
}

// CreateDiscussion registers a discussion and returns its id.
func (e *Engine) CreateDiscussion(ctx context.Context, d model.Discussion) (int64, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = e.clock.Now()
	}
	var id int64
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		id, err = tx.CreateDiscussion(ctx, d)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("create discussion: %w", err)
	}
	e.logger.Info("discussion created", "discussion", id, "owned_identity", d.OwnedIdentity)
	return id, nil
}

// UpdateDiscussion replaces the per-discussion overrides.
func (e *Engine) UpdateDiscussion(ctx context.Context, d model.Discussion) error {
	return e.withDiscussion(ctx, d.ID, "update discussion", func(o *op) error {
		return o.tx.UpdateDiscussionSettings(o.ctx, d)
	})
}

// DeleteDiscussion removes a discussion with all of its messages and
// pending records.
func (e *Engine) DeleteDiscussion(ctx context.Context, discussionID int64) error {
	err := e.withDiscussion(ctx, discussionID, "delete discussion", func(o *op) error {
		msgs, err := o.tx.ListMessages(o.ctx, discussionID)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			o.notifyDeleted(m, model.DeletionDeleted)
		}
		if _, err := o.tx.DeleteDiscussion(o.ctx, discussionID); err != nil {
			return err
		}
		o.logger().Info("discussion deleted", "discussion", discussionID, "messages", len(msgs))
		return nil
	})
	if err != nil {
		return err
	}
	e.locks.forget(discussionID)
	return nil
}

// Lookup returns the stored message at a lane position, or nil.
func (e *Engine) Lookup(ctx context.Context, discussionID int64, ref model.Reference) (*model.Message, error) {
	var m *model.Message
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		m, err = tx.FindMessageByReference(ctx, discussionID, ref)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", ref, err)
	}
	return m, nil
}

// Message returns the message with the permanent id, or nil.
func (e *Engine) Message(ctx context.Context, permanentID uuid.UUID) (*model.Message, error) {
	var m *model.Message
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		m, err = tx.FindMessageByPermanentID(ctx, permanentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", permanentID, err)
	}
	return m, nil
}

// Stats returns arena row counts.
func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		st, err = tx.Stats(ctx)
		return err
	})
	return st, err
}

// Discussions returns every discussion in creation order.
func (e *Engine) Discussions(ctx context.Context) ([]model.Discussion, error) {
	var out []model.Discussion
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListDiscussions(ctx)
		return err
	})
	return out, err
}

// NextExpiration returns the earliest pending deadline, if any.
func (e *Engine) NextExpiration(ctx context.Context) (time.Time, bool, error) {
	var (
		next time.Time
		ok   bool
	)
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		next, ok, err = tx.NextExpiration(ctx)
		return err
	})
	return next, ok, err
}

// Enqueue submits an event for processing by the Run loop.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Run processes enqueued events in FIFO order until ctx is cancelled or
// Stop is called.
//
// A failing event is logged with its context and processing continues.
// Nothing is retried.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		if event, ok := e.queue.TryDequeue(); ok {
			if err := e.processEvent(ctx, event); err != nil {
				e.logger.Error("event processing failed", "type", event.Type.String(), "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case _, open := <-e.queue.Wait():
			// The signal channel closes with the queue.
			if !open && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once it drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeMessage:
		if event.Message == nil {
			return fmt.Errorf("message event missing payload")
		}
		return e.IngestMessage(ctx, *event.Message)

	case EventTypeMutation:
		if event.Mutation == nil {
			return fmt.Errorf("mutation event missing payload")
		}
		return e.IngestMutation(ctx, *event.Mutation)

	case EventTypeAcknowledgement:
		if event.Acknowledgement == nil {
			return fmt.Errorf("acknowledgement event missing payload")
		}
		return e.IngestAcknowledgement(ctx, *event.Acknowledgement)

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}
