package tui

import (
	"time"

	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/progress"
	"github.com/fentz26/postloom/internal/scheduler"
)

// Messages produced by the watcher's commands.
type (
	tickMsg time.Time

	errMsg struct{ err error }

	campaignFetchedMsg struct{ campaign *CampaignInfo }

	// stats is nil while the campaign has never been generated
	statsFetchedMsg struct{ stats *progress.Stats }

	publicationsFetchedMsg struct{ pubs []models.Publication }

	workersFetchedMsg struct{ stats *scheduler.Stats }

	cancelledMsg struct{}
)
