// Package tui provides the terminal progress watcher for Postloom campaigns.
package tui

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/progress"
	"github.com/fentz26/postloom/internal/scheduler"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

const (
	modeProgress     = "progress"
	modePublications = "publications"
	modeWorkers      = "workers"
)

// DefaultRefreshInterval is how often the watcher polls the daemon.
const DefaultRefreshInterval = 2 * time.Second

// App is the campaign watcher model.
type App struct {
	client     *Client
	campaignID string
	interval   time.Duration
	exitOnDone bool

	bar     progressbar.Model
	spinner spinner.Model

	width  int
	height int
	mode   string

	campaign     *CampaignInfo
	stats        *progress.Stats
	pubs         []models.Publication
	workers      *scheduler.Stats
	message      string
	daemonOnline bool
}

// Option configures the watcher.
type Option func(*App)

// WithRefreshInterval sets the polling period.
func WithRefreshInterval(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithExitOnComplete quits the watcher once the run has finished.
func WithExitOnComplete() Option {
	return func(a *App) { a.exitOnDone = true }
}

// New creates a watcher for one campaign.
func New(apiAddr, campaignID string, opts ...Option) *App {
	a := &App{
		client:     NewClient(apiAddr),
		campaignID: campaignID,
		interval:   DefaultRefreshInterval,
		bar:        progressbar.New(progressbar.WithDefaultGradient(), progressbar.WithWidth(40)),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(lipgloss.NewStyle().Foreground(primaryColor))),
		width:      80,
		mode:       modeProgress,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the watcher.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.spinner.Tick,
		a.fetchCampaign(),
		a.fetchStats(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit

		case "esc":
			a.mode = modeProgress

		case "p":
			a.mode = modePublications
			return a, a.fetchPublications()

		case "w":
			a.mode = modeWorkers
			return a, a.fetchWorkers()

		case "r":
			return a, a.refresh()

		case "c":
			if a.running() {
				a.message = "Cancelling..."
				return a, a.cancelGeneration()
			}
			a.message = "No generation in progress"
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.bar.Width = min(max(msg.Width-20, 10), 80)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tickMsg:
		return a, tea.Batch(a.refresh(), a.tickCmd())

	case campaignFetchedMsg:
		a.daemonOnline = true
		a.campaign = msg.campaign

	case statsFetchedMsg:
		a.daemonOnline = true
		a.stats = msg.stats
		if a.exitOnDone && a.finished() {
			return a, tea.Quit
		}

	case publicationsFetchedMsg:
		a.pubs = msg.pubs

	case workersFetchedMsg:
		a.workers = msg.stats

	case cancelledMsg:
		a.message = "Cancellation requested, in-flight items will finish"
		return a, a.refresh()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	return a, nil
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	name := a.campaignID
	if a.campaign != nil && a.campaign.Name != "" {
		name = a.campaign.Name
	}
	header := titleStyle.Render("POSTLOOM " + name)
	header += "  " + daemonStatus
	if a.campaign != nil {
		header += "  " + a.renderCampaignStatus(a.campaign.GenerationStatus)
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	switch a.mode {
	case modePublications:
		b.WriteString(a.renderPublications())
	case modeWorkers:
		b.WriteString(a.renderWorkersPanel())
	default:
		b.WriteString(a.renderProgress())
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modePublications:
		status = fmt.Sprintf(" Publications: %d | Esc:back | r:refresh | q:quit", len(a.pubs))
	case modeWorkers:
		status = " Esc:back | r:refresh | q:quit"
	default:
		status = " p:publications | w:workers | c:cancel | r:refresh | q:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderProgress() string {
	if a.stats == nil || a.stats.Progress == nil {
		return "\n  " + a.spinner.View() + " Waiting for generation to start...\n"
	}

	p := a.stats.Progress
	var b strings.Builder
	b.WriteString("\n")

	prefix := a.spinner.View()
	if p.CompletedAt != nil {
		prefix = onlineStyle.Render("✓")
	}
	b.WriteString(fmt.Sprintf("  %s %s  %d/%d\n\n", prefix,
		a.bar.ViewAs(float64(a.stats.Percentage)/100),
		p.CompletedPublications, p.TotalPublications))

	if p.CompletedAt == nil {
		if p.CurrentPublicationID != "" {
			b.WriteString(fmt.Sprintf("  Current:   %s", p.CurrentPublicationID))
			if p.CurrentAgent != "" {
				b.WriteString(lipgloss.NewStyle().Foreground(cyanColor).Render(" [" + string(p.CurrentAgent) + "]"))
			}
			b.WriteString("\n")
		}
		if p.CurrentStep != "" {
			b.WriteString(fmt.Sprintf("  Step:      %s\n", p.CurrentStep))
		}
		b.WriteString(fmt.Sprintf("  Remaining: ~%s\n", formatMillis(p.EstimatedTimeRemaining)))
	}
	b.WriteString(fmt.Sprintf("  Elapsed:   %s\n", formatMillis(a.stats.ElapsedTime)))
	if a.stats.AverageTimePerPublication > 0 {
		b.WriteString(fmt.Sprintf("  Average:   %s per publication\n", formatMillis(a.stats.AverageTimePerPublication)))
	}

	if len(p.Errors) > 0 {
		var lines []string
		for _, e := range p.Errors {
			line := fmt.Sprintf("%s  %s", e.PublicationID, e.Error)
			if e.RetryCount > 0 {
				line += fmt.Sprintf(" (retries: %d)", e.RetryCount)
			}
			lines = append(lines, lipgloss.NewStyle().Foreground(errorColor).Render(line))
		}
		b.WriteString("\n" + panelStyle.Render(fmt.Sprintf("Errors (%d)\n", len(p.Errors))+strings.Join(lines, "\n")) + "\n")
	}

	return b.String()
}

func (a *App) renderPublications() string {
	if len(a.pubs) == 0 {
		return "\n  No publications yet.\n"
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, pub := range a.pubs {
		b.WriteString(fmt.Sprintf("  %s  %-10s %s\n", a.formatStatus(pub.GenerationStatus), pub.SocialNetwork, pub.Title))
		if pub.ErrorMessage != "" {
			b.WriteString(helpStyle.Render("      "+pub.ErrorMessage) + "\n")
		} else if pub.GenerationMetadata.FallbackUsed {
			b.WriteString(helpStyle.Render("      generated by fallback agent") + "\n")
		}
	}
	return b.String()
}

func (a *App) renderWorkersPanel() string {
	var b strings.Builder

	b.WriteString("\n  Worker Slots\n")
	b.WriteString("  " + strings.Repeat("─", 40) + "\n\n")

	if a.workers == nil {
		b.WriteString("  Loading...\n")
		return b.String()
	}

	activeStyle := lipgloss.NewStyle().Foreground(successColor).Bold(true)
	maxStyle := lipgloss.NewStyle().Foreground(mutedColor)
	b.WriteString(fmt.Sprintf("  Active Workers: %s / %s\n\n",
		activeStyle.Render(fmt.Sprintf("%d", a.workers.ActiveWorkers)),
		maxStyle.Render(fmt.Sprintf("%d", a.workers.GlobalMax))))

	if len(a.workers.KindCounts) > 0 {
		kinds := make([]string, 0, len(a.workers.KindCounts))
		for k := range a.workers.KindCounts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		b.WriteString("  By kind:\n")
		for _, k := range kinds {
			b.WriteString(fmt.Sprintf("    • %s: %d\n", k, a.workers.KindCounts[k]))
		}
	}
	return b.String()
}

func (a *App) renderCampaignStatus(status string) string {
	switch models.CampaignStatus(status) {
	case models.CampaignGenerating:
		return lipgloss.NewStyle().Foreground(warningColor).Render(status)
	case models.CampaignCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render(status)
	case models.CampaignFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render(status)
	default:
		return lipgloss.NewStyle().Foreground(mutedColor).Render(status)
	}
}

func (a *App) formatStatus(status models.GenerationStatus) string {
	switch status {
	case models.GenerationPending:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○ PENDING   ")
	case models.GenerationGenerating:
		return lipgloss.NewStyle().Foreground(warningColor).Render("◐ GENERATING")
	case models.GenerationCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render("✓ COMPLETED ")
	case models.GenerationFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ FAILED    ")
	default:
		return string(status)
	}
}

func (a *App) running() bool {
	if a.campaign != nil && a.campaign.GenerationActive {
		return true
	}
	return a.stats != nil && a.stats.Progress != nil && a.stats.Progress.CompletedAt == nil
}

func (a *App) finished() bool {
	return a.stats != nil && a.stats.Progress != nil && a.stats.Progress.CompletedAt != nil
}

func (a *App) refresh() tea.Cmd {
	cmds := []tea.Cmd{a.fetchCampaign(), a.fetchStats()}
	switch a.mode {
	case modePublications:
		cmds = append(cmds, a.fetchPublications())
	case modeWorkers:
		cmds = append(cmds, a.fetchWorkers())
	}
	return tea.Batch(cmds...)
}

func (a *App) fetchCampaign() tea.Cmd {
	return func() tea.Msg {
		c, err := a.client.GetCampaign(a.campaignID)
		if err != nil {
			return errMsg{err}
		}
		return campaignFetchedMsg{c}
	}
}

func (a *App) fetchStats() tea.Cmd {
	return func() tea.Msg {
		stats, err := a.client.GetStats(a.campaignID)
		if errors.Is(err, ErrNoProgress) {
			return statsFetchedMsg{}
		}
		if err != nil {
			return errMsg{err}
		}
		return statsFetchedMsg{stats}
	}
}

func (a *App) fetchPublications() tea.Cmd {
	return func() tea.Msg {
		pubs, err := a.client.ListPublications(a.campaignID)
		if err != nil {
			return errMsg{err}
		}
		return publicationsFetchedMsg{pubs}
	}
}

func (a *App) fetchWorkers() tea.Cmd {
	return func() tea.Msg {
		stats, err := a.client.GetWorkers()
		if err != nil {
			return errMsg{err}
		}
		return workersFetchedMsg{stats}
	}
}

func (a *App) cancelGeneration() tea.Cmd {
	return func() tea.Msg {
		if err := a.client.CancelGeneration(a.campaignID); err != nil {
			return errMsg{err}
		}
		return cancelledMsg{}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(a.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func formatMillis(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
