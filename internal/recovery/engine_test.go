package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/postloom/internal/agents"
	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/notify"
)

type call struct {
	agent models.AgentType
	req   agents.Request
}

// scriptedGenerator returns the queued errors in order, then succeeds.
type scriptedGenerator struct {
	mu    sync.Mutex
	errs  []error
	calls []call
}

func (g *scriptedGenerator) Generate(ctx context.Context, agent models.AgentType, req agents.Request) (*agents.Output, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{agent: agent, req: req})
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return nil, err
	}
	return &agents.Output{
		Text:      "ok",
		ImageURLs: []string{"https://img/1.png"},
		Metadata: models.GenerationMetadata{
			AgentUsed:        agent,
			RecoveryStrategy: req.Options.Recovery,
			FallbackUsed:     req.Options.Fallback,
		},
	}, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestEngine(g Generator) (*Engine, *sleepRecorder, *[]notify.Notification) {
	sleeper := &sleepRecorder{}
	bus := notify.NewBus()
	var notes []notify.Notification
	bus.Subscribe(func(n notify.Notification) { notes = append(notes, n) })
	e := NewEngine(g, WithSleeper(sleeper.Sleep), WithPublisher(bus))
	return e, sleeper, &notes
}

func imageItem() models.ContentPlanItem {
	return models.ContentPlanItem{
		ID:            "item-1",
		Title:         "Launch",
		Description:   strings.Repeat("d", 150),
		SocialNetwork: "instagram",
		ContentType:   models.ContentTextImage,
	}
}

func TestClassify(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		msg     string
		attempt int
		want    bool
	}{
		{"network error while dialing", 1, true},
		{"Request TIMEOUT", 1, true},
		{"Rate limit exceeded", 2, true},
		{"429 Too Many Requests", 1, true},
		{"openai api error: 500", 1, true},
		{"image generation failed: boom", 1, true},
		{"content too long for twitter", 1, true},
		{"network error", 3, false},
		{"network error", 7, false},
		{"Invalid API key", 1, false},
		{"Resource not found", 1, false},
		{"template not found: t1", 1, false},
		{"timeout: workspace not found", 1, false},
		{"something strange happened", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := p.Classify(tt.msg, tt.attempt)
			assert.Equal(t, tt.want, got.Retryable, got.Reason)
		})
	}
}

func TestSelectStrategy(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		msg  string
		want Kind
	}{
		{"rate limit exceeded", KindExponentialBackoff},
		{"too many requests (openai api)", KindExponentialBackoff},
		{"generation timeout after 2m", KindExtendedTimeout},
		{"network error", KindExtendedTimeout},
		{"openai api error: 500", KindFallbackAgent},
		{"resource unavailable", KindSimplified},
		{"template processing failed: slide 1", KindStandard},
		{"content too long for twitter", KindContentOptimization},
		{"service unavailable", KindStandard},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, p.SelectStrategy(tt.msg))
		})
	}
}

func TestBackoffFor(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.BackoffFor(1))
	assert.Equal(t, 3*time.Second, p.BackoffFor(2))
	assert.Equal(t, 5*time.Second, p.BackoffFor(3))
	assert.Equal(t, 5*time.Second, p.BackoffFor(9))
	assert.Equal(t, 2*time.Second, p.RateLimitDelay(2))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 100))
	got := Truncate(strings.Repeat("é", 120), 100)
	assert.Equal(t, 103, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestHandle_RateLimitThenSuccess(t *testing.T) {
	g := &scriptedGenerator{}
	e, sleeper, notes := newTestEngine(g)

	res := e.Handle(context.Background(), Input{
		PublicationID: "item-1",
		CampaignID:    "camp-1",
		Item:          imageItem(),
		Err:           errors.New("rate limit exceeded"),
		Attempt:       1,
	})

	require.True(t, res.Success)
	assert.Equal(t, 1, res.RetryCount)
	assert.Equal(t, 1, res.Output.Metadata.RetryCount)
	assert.Equal(t, KindExponentialBackoff, res.Strategy)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.delays, "backoff then 2^1 x 500ms")

	require.Len(t, *notes, 1)
	assert.Equal(t, notify.LevelWarning, (*notes)[0].Level)
	assert.Len(t, e.History("item-1"), 1)
}

func TestHandle_TimeoutExhaustsAttempts(t *testing.T) {
	g := &scriptedGenerator{errs: []error{
		errors.New("timeout"),
		errors.New("timeout"),
		errors.New("timeout"),
	}}
	e, sleeper, notes := newTestEngine(g)

	res := e.Handle(context.Background(), Input{
		PublicationID: "item-1",
		Item:          imageItem(),
		Err:           errors.New("timeout"),
		Attempt:       1,
	})

	require.False(t, res.Success)
	assert.Equal(t, 2, res.RetryCount)
	assert.Len(t, g.calls, 2, "no retry at the attempt cap")
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, sleeper.delays)
	for _, c := range g.calls {
		assert.Equal(t, 2*time.Minute, c.req.Options.Timeout)
	}

	require.Len(t, *notes, 1)
	assert.Equal(t, notify.LevelCritical, (*notes)[0].Level)
	assert.Len(t, e.History("item-1"), 3)
}

func TestHandle_NonRetryableFailsFast(t *testing.T) {
	g := &scriptedGenerator{}
	e, sleeper, notes := newTestEngine(g)

	res := e.Handle(context.Background(), Input{
		PublicationID: "item-1",
		Item:          imageItem(),
		Err:           errors.New("Resource not found"),
		Attempt:       1,
	})

	require.False(t, res.Success)
	assert.Equal(t, 0, res.RetryCount)
	assert.Empty(t, g.calls)
	assert.Empty(t, sleeper.delays)
	require.Len(t, *notes, 1)
	assert.Equal(t, notify.LevelCritical, (*notes)[0].Level)
}

func TestHandle_UnclassifiedIsNotRetried(t *testing.T) {
	g := &scriptedGenerator{}
	e, _, _ := newTestEngine(g)

	res := e.Handle(context.Background(), Input{Item: imageItem(), Err: errors.New("kaboom")})
	assert.False(t, res.Success)
	assert.Empty(t, g.calls)
}

func TestHandle_FallbackAgent(t *testing.T) {
	g := &scriptedGenerator{}
	e, _, _ := newTestEngine(g)

	res := e.Handle(context.Background(), Input{
		Item:    imageItem(),
		Err:     errors.New("openai api error: 502 bad gateway"),
		Attempt: 1,
	})

	require.True(t, res.Success)
	assert.Equal(t, KindFallbackAgent, res.Strategy)
	assert.Equal(t, models.AgentTextOnly, res.Agent)
	assert.Empty(t, res.Output.ImageURLs)
	assert.True(t, res.Output.Metadata.FallbackUsed)
}

func TestHandle_FallbackOnTextOnlyIsStandard(t *testing.T) {
	g := &scriptedGenerator{}
	e, _, _ := newTestEngine(g)

	item := imageItem()
	item.ContentType = models.ContentTextOnly
	res := e.Handle(context.Background(), Input{Item: item, Err: errors.New("openai api error"), Attempt: 1})

	require.True(t, res.Success)
	assert.False(t, g.calls[0].req.Options.Fallback)
	assert.Equal(t, models.AgentTextOnly, g.calls[0].agent)
}

func TestHandle_SimplifiedForcesTextOnly(t *testing.T) {
	g := &scriptedGenerator{}
	e, _, _ := newTestEngine(g)

	item := imageItem()
	item.ContentType = models.ContentCarousel
	item.TemplateID = "t1"
	res := e.Handle(context.Background(), Input{
		Item:      item,
		Templates: []models.TemplateData{{ID: "t1", Images: []string{"a"}}},
		Err:       errors.New("service unavailable: resource busy"),
		Attempt:   1,
	})

	require.True(t, res.Success)
	assert.Equal(t, KindSimplified, res.Strategy)
	assert.Equal(t, models.AgentTextOnly, g.calls[0].agent)
	assert.True(t, g.calls[0].req.Options.Simplified)
}

func TestHandle_ContentOptimization(t *testing.T) {
	g := &scriptedGenerator{}
	e, _, _ := newTestEngine(g)

	res := e.Handle(context.Background(), Input{
		Item:    imageItem(),
		Err:     errors.New("content too long for twitter: 300 characters (limit 280)"),
		Attempt: 1,
	})

	require.True(t, res.Success)
	desc := g.calls[0].req.Item.Description
	assert.Equal(t, 103, len([]rune(desc)))
	assert.True(t, strings.HasSuffix(desc, "..."))
	assert.True(t, g.calls[0].req.Options.Truncated)
}

func TestHandle_MissingTemplateStops(t *testing.T) {
	g := &scriptedGenerator{}
	e, _, _ := newTestEngine(g)

	item := imageItem()
	item.ContentType = models.ContentCarousel
	item.TemplateID = "gone"
	res := e.Handle(context.Background(), Input{Item: item, Err: errors.New("carousel generation failed"), Attempt: 1})

	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, agents.ErrTemplateNotFound)
	assert.Empty(t, g.calls)
	assert.Equal(t, 1, res.RetryCount)
}

func TestHandle_ContextCancelledDuringBackoff(t *testing.T) {
	g := &scriptedGenerator{}
	e, _, _ := newTestEngine(g)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Handle(ctx, Input{Item: imageItem(), Err: errors.New("network error"), Attempt: 1})

	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, g.calls)
}

func TestHistory_AppendOnlyAndIsolated(t *testing.T) {
	g := &scriptedGenerator{}
	e, _, _ := newTestEngine(g)

	for i := 0; i < 60; i++ {
		e.Handle(context.Background(), Input{PublicationID: "a", Item: imageItem(), Err: fmt.Errorf("kaboom %d", i)})
	}
	e.Handle(context.Background(), Input{PublicationID: "b", Item: imageItem(), Err: errors.New("kaboom")})

	h := e.History("a")
	require.Len(t, h, 60, "history is never trimmed")
	assert.Equal(t, "kaboom 0", h[0].Error)
	assert.Equal(t, "kaboom 59", h[59].Error)

	h[0].Error = "edited"
	assert.Equal(t, "kaboom 0", e.History("a")[0].Error, "callers get a copy")
	assert.Len(t, e.History("b"), 1)
}

func TestContextSleep(t *testing.T) {
	require.NoError(t, contextSleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, contextSleep(ctx, time.Hour), context.Canceled)
}
