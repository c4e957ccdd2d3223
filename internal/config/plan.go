package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/postloom/internal/models"
)

// Plan is a content plan file submitted by the CLI.
type Plan struct {
	Workspace models.WorkspaceData     `yaml:"workspace"`
	Resources []models.ResourceData    `yaml:"resources"`
	Templates []models.TemplateData    `yaml:"templates"`
	Items     []models.ContentPlanItem `yaml:"content_plan"`
}

// LoadPlan reads a content plan from a YAML file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}
	for i, item := range p.Items {
		if item.ID == "" {
			return nil, fmt.Errorf("plan item %d: id is required", i)
		}
		if item.ContentType == "" {
			p.Items[i].ContentType = models.ContentTextOnly
		}
	}
	return &p, nil
}
