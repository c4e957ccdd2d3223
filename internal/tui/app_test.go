package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/progress"
	"github.com/fentz26/postloom/internal/scheduler"
)

type fakeDaemon struct {
	stats     *progress.Stats
	pubs      []models.Publication
	active    bool
	cancelled atomic.Int32
}

func (f *fakeDaemon) handler() http.Handler {
	r := chi.NewRouter()
	writeJSON := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Get("/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != "camp-1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign not found"})
			return
		}
		writeJSON(w, http.StatusOK, CampaignInfo{ID: "camp-1", Name: "Spring launch", GenerationStatus: "generating", GenerationActive: f.active})
	})
	r.Get("/campaigns/{id}/generation-stats", func(w http.ResponseWriter, r *http.Request) {
		if f.stats == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no generation progress for campaign"})
			return
		}
		writeJSON(w, http.StatusOK, f.stats)
	})
	r.Get("/campaigns/{id}/publications", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, f.pubs)
	})
	r.Post("/campaigns/{id}/cancel-generation", func(w http.ResponseWriter, r *http.Request) {
		f.cancelled.Add(1)
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
	})
	r.Get("/workers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, scheduler.Stats{ActiveWorkers: 1, GlobalMax: 10, KindCounts: map[string]int{"generate": 1}})
	})
	return r
}

func newWatcher(t *testing.T, f *fakeDaemon, opts ...Option) *App {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return New(srv.URL, "camp-1", opts...)
}

func runningStats() *progress.Stats {
	return &progress.Stats{
		Progress: &models.GenerationProgress{
			ID:                    "prog-1",
			CampaignID:            "camp-1",
			TotalPublications:     5,
			CompletedPublications: 3,
			CurrentPublicationID:  "item-d",
			CurrentAgent:          models.AgentTextOnly,
			CurrentStep:           "Generating content",
			Errors: []models.GenerationError{
				{PublicationID: "item-b", Error: "Resource not found", RetryCount: 0},
			},
			StartedAt:              time.Now().Add(-10 * time.Second),
			EstimatedTimeRemaining: 60000,
		},
		Percentage:  60,
		ElapsedTime: 10000,
	}
}

// apply runs a command and feeds its message back into the model.
func apply(t *testing.T, a *App, cmd tea.Cmd) tea.Cmd {
	t.Helper()
	require.NotNil(t, cmd)
	_, next := a.Update(cmd())
	return next
}

func TestWatcher_WaitingBeforeRun(t *testing.T) {
	a := newWatcher(t, &fakeDaemon{})

	apply(t, a, a.fetchCampaign())
	apply(t, a, a.fetchStats())

	view := a.View()
	assert.Contains(t, view, "Spring launch")
	assert.Contains(t, view, "Waiting for generation to start")
	assert.Empty(t, a.message)
}

func TestWatcher_RendersProgress(t *testing.T) {
	a := newWatcher(t, &fakeDaemon{stats: runningStats(), active: true})

	apply(t, a, a.fetchCampaign())
	apply(t, a, a.fetchStats())

	view := a.View()
	assert.Contains(t, view, "3/5")
	assert.Contains(t, view, "item-d")
	assert.Contains(t, view, "Generating content")
	assert.Contains(t, view, "Errors (1)")
	assert.Contains(t, view, "Resource not found")
	assert.Contains(t, view, "1m0s")
	assert.True(t, a.daemonOnline)
}

func TestWatcher_ExitOnComplete(t *testing.T) {
	stats := runningStats()
	done := time.Now()
	stats.Progress.CompletedAt = &done
	stats.Progress.CompletedPublications = 4
	a := newWatcher(t, &fakeDaemon{stats: stats}, WithExitOnComplete())

	next := apply(t, a, a.fetchStats())
	require.NotNil(t, next)
	assert.IsType(t, tea.QuitMsg{}, next())
	assert.NotContains(t, a.View(), "Remaining")
}

func TestWatcher_Cancel(t *testing.T) {
	f := &fakeDaemon{stats: runningStats(), active: true}
	a := newWatcher(t, f)
	apply(t, a, a.fetchCampaign())

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	assert.Equal(t, "Cancelling...", a.message)
	apply(t, a, cmd)

	assert.Equal(t, int32(1), f.cancelled.Load())
	assert.Contains(t, a.message, "Cancellation requested")
}

func TestWatcher_CancelWhenIdle(t *testing.T) {
	f := &fakeDaemon{}
	a := newWatcher(t, f)

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	assert.Nil(t, cmd)
	assert.Equal(t, "No generation in progress", a.message)
	assert.Zero(t, f.cancelled.Load())
}

func TestWatcher_PublicationsAndWorkers(t *testing.T) {
	f := &fakeDaemon{pubs: []models.Publication{
		{ID: "pub-1", Title: "Launch day", SocialNetwork: "instagram", GenerationStatus: models.GenerationCompleted},
		{ID: "pub-2", Title: "Follow up", SocialNetwork: "linkedin", GenerationStatus: models.GenerationFailed, ErrorMessage: "Resource not found"},
	}}
	a := newWatcher(t, f)

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	apply(t, a, cmd)
	view := a.View()
	assert.Contains(t, view, "Launch day")
	assert.Contains(t, view, "FAILED")
	assert.Contains(t, view, "Publications: 2")

	_, cmd = a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("w")})
	apply(t, a, cmd)
	view = a.View()
	assert.Contains(t, view, "Worker Slots")
	assert.Contains(t, view, "generate: 1")

	a.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeProgress, a.mode)
}

func TestWatcher_ErrorsAreShown(t *testing.T) {
	a := newWatcher(t, &fakeDaemon{})
	a.campaignID = "missing"

	apply(t, a, a.fetchCampaign())
	assert.Contains(t, a.message, "Error: API error (404)")
}

func TestWatcher_Quit(t *testing.T) {
	a := newWatcher(t, &fakeDaemon{})
	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestClient_CheckHealth(t *testing.T) {
	srv := httptest.NewServer((&fakeDaemon{}).handler())
	defer srv.Close()

	ok, err := NewClient(srv.URL).CheckHealth()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFormatMillis(t *testing.T) {
	assert.Equal(t, "250ms", formatMillis(250))
	assert.Equal(t, "2s", formatMillis(1500))
	assert.Equal(t, "1m30s", formatMillis(90000))
}
