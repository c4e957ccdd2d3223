package tui

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/progress"
	"github.com/fentz26/postloom/internal/scheduler"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// ErrNoProgress is returned when the campaign has never been generated.
var ErrNoProgress = errors.New("no generation progress yet")

// Client wraps HTTP calls to the Postloom API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// CampaignInfo is the campaign summary shown in the header.
type CampaignInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	GenerationStatus string `json:"generationStatus"`
	GenerationActive bool   `json:"generationActive"`
}

// GetCampaign fetches a campaign
func (c *Client) GetCampaign(id string) (*CampaignInfo, error) {
	var info CampaignInfo
	if err := c.get("/campaigns/"+id, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetStats fetches progress and derived figures for a campaign
func (c *Client) GetStats(campaignID string) (*progress.Stats, error) {
	var stats progress.Stats
	err := c.get("/campaigns/"+campaignID+"/generation-stats", &stats)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListPublications fetches the publications of a campaign
func (c *Client) ListPublications(campaignID string) ([]models.Publication, error) {
	var pubs []models.Publication
	if err := c.get("/campaigns/"+campaignID+"/publications", &pubs); err != nil {
		return nil, err
	}
	return pubs, nil
}

// CancelGeneration asks the daemon to stop a run
func (c *Client) CancelGeneration(campaignID string) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/campaigns/"+campaignID+"/cancel-generation", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}

func (c *Client) get(path string, v interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error == "no generation progress for campaign" {
			return ErrNoProgress
		}
		return fmt.Errorf("API error (404): %s", string(body))
	}
	if resp.StatusCode >= 400 {
		return apiError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
}

// GetWorkers fetches scheduler slot usage
func (c *Client) GetWorkers() (*scheduler.Stats, error) {
	var stats scheduler.Stats
	if err := c.get("/workers", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
