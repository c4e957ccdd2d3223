// Package recovery classifies generation failures, picks a recovery
// strategy, waits out a backoff, and regenerates with adjusted settings.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/postloom/internal/agents"
	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/notify"
)

// Generator runs a strategy. *agents.Registry satisfies it.
type Generator interface {
	Generate(ctx context.Context, agent models.AgentType, req agents.Request) (*agents.Output, error)
}

// Publisher receives recovery notifications. *notify.Bus satisfies it.
type Publisher interface {
	Publish(n notify.Notification)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Input describes a failed generation.
type Input struct {
	PublicationID string
	CampaignID    string
	Item          models.ContentPlanItem
	Workspace     models.WorkspaceData
	Resources     []models.ResourceData
	Templates     []models.TemplateData
	Agent         models.AgentType
	Err           error
	Attempt       int
}

// Result is the outcome of recovery.
type Result struct {
	Success    bool
	Output     *agents.Output
	Agent      models.AgentType
	Strategy   Kind
	Err        error
	RetryCount int
}

// Engine retries failed generations according to a Policy.
type Engine struct {
	policy    Policy
	generator Generator
	publisher Publisher
	sleep     Sleeper
	now       func() time.Time
	logger    *zap.Logger

	mu      sync.Mutex
	history map[string][]models.GenerationError
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithPublisher sets the notification sink.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a recovery engine over g.
func NewEngine(g Generator, opts ...Option) *Engine {
	e := &Engine{
		policy:    DefaultPolicy(),
		generator: g,
		sleep:     contextSleep,
		now:       time.Now,
		logger:    zap.NewNop(),
		history:   make(map[string][]models.GenerationError),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "recovery"))
	return e
}

// Policy returns the active policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Handle attempts to recover from in.Err starting at in.Attempt.
func (e *Engine) Handle(ctx context.Context, in Input) *Result {
	if in.Attempt < 1 {
		in.Attempt = 1
	}
	if in.Agent == "" {
		if agent, err := agents.Resolve(in.Item); err == nil {
			in.Agent = agent
		}
	}
	return e.handle(ctx, in)
}

func (e *Engine) handle(ctx context.Context, in Input) *Result {
	msg := errorMessage(in.Err)
	e.record(in, msg)

	log := e.logger.With(
		zap.String("publication_id", in.PublicationID),
		zap.String("campaign_id", in.CampaignID),
		zap.Int("attempt", in.Attempt),
	)

	decision := e.policy.Classify(msg, in.Attempt)
	if !decision.Retryable {
		log.Info("not retrying", zap.String("reason", decision.Reason), zap.String("error", msg))
		return e.fail(in, "", in.Err, in.Attempt-1)
	}

	if err := e.sleep(ctx, e.policy.BackoffFor(in.Attempt)); err != nil {
		return e.fail(in, "", err, in.Attempt-1)
	}

	kind := e.policy.SelectStrategy(msg)
	log.Info("retrying", zap.String("strategy", string(kind)), zap.String("error", msg))

	out, agent, err := e.attempt(ctx, in, kind)
	if err == nil {
		res := &Result{
			Success:    true,
			Output:     out,
			Agent:      agent,
			Strategy:   kind,
			RetryCount: in.Attempt,
		}
		out.Metadata.RetryCount = in.Attempt
		e.notify(notify.LevelWarning, in, kind, fmt.Sprintf("recovered using %s", kind), in.Attempt)
		return res
	}

	next := in
	next.Err = err
	next.Attempt = in.Attempt + 1
	next.Agent = agent
	return e.handle(ctx, next)
}

// attempt regenerates with the adjustments of kind.
func (e *Engine) attempt(ctx context.Context, in Input, kind Kind) (*agents.Output, models.AgentType, error) {
	item := in.Item
	opts := agents.Options{Recovery: string(kind)}
	var forceTextOnly bool

	switch kind {
	case KindExponentialBackoff:
		if err := e.sleep(ctx, e.policy.RateLimitDelay(in.Attempt)); err != nil {
			return nil, in.Agent, err
		}
	case KindExtendedTimeout:
		opts.Timeout = e.policy.ExtendedTimeout
	case KindFallbackAgent:
		if item.ContentType != models.ContentTextOnly {
			forceTextOnly = true
			opts.Fallback = true
		}
	case KindSimplified:
		forceTextOnly = true
		opts.Simplified = true
	case KindContentOptimization:
		item.Description = Truncate(item.Description, e.policy.TruncateLength)
		opts.Truncated = true
	}

	if forceTextOnly {
		item.ContentType = models.ContentTextOnly
	}

	agent, req, err := agents.BuildRequest(item, in.Workspace, in.Resources, in.Templates)
	if err != nil {
		return nil, agent, err
	}
	req.Options = opts

	out, err := e.generator.Generate(ctx, agent, req)
	if err != nil {
		return nil, agent, err
	}
	if forceTextOnly {
		out.ImageURLs = []string{}
		out.TemplateTexts = nil
	}
	return out, agent, nil
}

func (e *Engine) fail(in Input, kind Kind, err error, retries int) *Result {
	if retries < 0 {
		retries = 0
	}
	e.notify(notify.LevelCritical, in, kind, errorMessage(err), retries)
	return &Result{
		Agent:      in.Agent,
		Strategy:   kind,
		Err:        err,
		RetryCount: retries,
	}
}

func (e *Engine) record(in Input, msg string) {
	entry := models.GenerationError{
		PublicationID: in.PublicationID,
		AgentType:     in.Agent,
		Error:         msg,
		Timestamp:     e.now().UTC(),
		RetryCount:    in.Attempt,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.history[in.PublicationID] = append(e.history[in.PublicationID], entry)
}

func (e *Engine) notify(level notify.Level, in Input, kind Kind, msg string, retries int) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(notify.Notification{
		Level:         level,
		PublicationID: in.PublicationID,
		CampaignID:    in.CampaignID,
		Message:       msg,
		Strategy:      string(kind),
		RetryCount:    retries,
		Time:          e.now().UTC(),
	})
}

// History returns a copy of the errors recorded for a publication, oldest
// first. Entries are never removed.
func (e *Engine) History(publicationID string) []models.GenerationError {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.history[publicationID]
	out := make([]models.GenerationError, len(h))
	copy(out, h)
	return out
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
