package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/postloom/internal/config"
	"github.com/fentz26/postloom/internal/controlplane"
	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/progress"
	"github.com/fentz26/postloom/internal/tui"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Manage campaigns and their generation runs",
}

var campaignCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign",
	RunE:  runCampaignCreate,
}

var campaignShowCmd = &cobra.Command{
	Use:   "show [campaign-id]",
	Short: "Show campaign details",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

var campaignGenerateCmd = &cobra.Command{
	Use:   "generate [campaign-id]",
	Short: "Generate content for a campaign from a plan file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignGenerate,
}

var campaignProgressCmd = &cobra.Command{
	Use:   "progress [campaign-id]",
	Short: "Show generation progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignProgress,
}

var campaignCancelCmd = &cobra.Command{
	Use:   "cancel [campaign-id]",
	Short: "Cancel the active generation",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignCancel,
}

var campaignPublicationsCmd = &cobra.Command{
	Use:   "publications [campaign-id]",
	Short: "List generated publications",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignPublications,
}

var (
	campaignName      string
	campaignWorkspace string
	planPath          string
	watchAfter        bool
)

func init() {
	campaignCmd.AddCommand(campaignCreateCmd, campaignShowCmd, campaignGenerateCmd,
		campaignProgressCmd, campaignCancelCmd, campaignPublicationsCmd)

	campaignCreateCmd.Flags().StringVar(&campaignName, "name", "", "Campaign name (required)")
	campaignCreateCmd.Flags().StringVar(&campaignWorkspace, "workspace", "", "Workspace ID")
	campaignCreateCmd.MarkFlagRequired("name")

	campaignGenerateCmd.Flags().StringVar(&planPath, "plan", "", "Path to a YAML content plan (required)")
	campaignGenerateCmd.Flags().BoolVar(&watchAfter, "watch", false, "Follow progress in the terminal UI")
	campaignGenerateCmd.MarkFlagRequired("plan")
}

func runCampaignCreate(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"name":        campaignName,
		"workspaceId": campaignWorkspace,
	}

	var c models.Campaign
	if err := apiPost("/campaigns", body, &c); err != nil {
		return err
	}

	fmt.Printf("Created campaign: %s\n", c.ID)
	return nil
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	var c controlplane.CampaignView
	if err := apiGet("/campaigns/"+args[0], &c); err != nil {
		return err
	}

	fmt.Printf("ID:         %s\n", c.ID)
	fmt.Printf("Name:       %s\n", c.Name)
	fmt.Printf("Workspace:  %s\n", c.WorkspaceID)
	fmt.Printf("Status:     %s\n", c.GenerationStatus)
	fmt.Printf("Generating: %t\n", c.GenerationActive)
	fmt.Printf("Created:    %s\n", c.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:    %s\n", c.UpdatedAt.Format(time.RFC3339))
	return nil
}

func runCampaignGenerate(cmd *cobra.Command, args []string) error {
	plan, err := config.LoadPlan(planPath)
	if err != nil {
		return err
	}

	req := controlplane.GenerateRequest{
		Plan:      plan.Items,
		Workspace: plan.Workspace,
		Resources: plan.Resources,
		Templates: plan.Templates,
	}
	var resp controlplane.GenerateResponse
	if err := apiPost("/campaigns/"+args[0]+"/generate-content", req, &resp); err != nil {
		return err
	}

	fmt.Printf("Generation %s for campaign %s (%d items)\n", resp.Status, resp.CampaignID, resp.Items)
	if !watchAfter {
		fmt.Printf("Follow it with: postloom watch %s\n", resp.CampaignID)
		return nil
	}
	return tui.New(apiAddr, resp.CampaignID).Run()
}

func runCampaignProgress(cmd *cobra.Command, args []string) error {
	var stats progress.Stats
	if err := apiGet("/campaigns/"+args[0]+"/generation-stats", &stats); err != nil {
		return err
	}
	p := stats.Progress
	if p == nil {
		return fmt.Errorf("no progress recorded for campaign %s", args[0])
	}

	fmt.Printf("Progress:  %d/%d (%d%%)\n", p.CompletedPublications, p.TotalPublications, stats.Percentage)
	if p.CompletedAt != nil {
		fmt.Printf("Finished:  %s\n", p.CompletedAt.Format(time.RFC3339))
	} else {
		if p.CurrentPublicationID != "" {
			fmt.Printf("Current:   %s (%s)\n", p.CurrentPublicationID, p.CurrentAgent)
		}
		if p.CurrentStep != "" {
			fmt.Printf("Step:      %s\n", p.CurrentStep)
		}
		fmt.Printf("Remaining: ~%s\n", millis(p.EstimatedTimeRemaining))
	}
	fmt.Printf("Elapsed:   %s\n", millis(stats.ElapsedTime))
	if stats.AverageTimePerPublication > 0 {
		fmt.Printf("Average:   %s per publication\n", millis(stats.AverageTimePerPublication))
	}

	if len(p.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(p.Errors))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PUBLICATION\tAGENT\tRETRIES\tERROR")
		for _, e := range p.Errors {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.PublicationID, e.AgentType, e.RetryCount, truncate(e.Error, 60))
		}
		w.Flush()
	}
	return nil
}

func runCampaignCancel(cmd *cobra.Command, args []string) error {
	if err := apiPost("/campaigns/"+args[0]+"/cancel-generation", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for campaign %s\n", args[0])
	return nil
}

func runCampaignPublications(cmd *cobra.Command, args []string) error {
	var pubs []models.Publication
	if err := apiGet("/campaigns/"+args[0]+"/publications", &pubs); err != nil {
		return err
	}
	if len(pubs) == 0 {
		fmt.Println("No publications found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tNETWORK\tAGENT\tTITLE")
	for _, p := range pubs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.GenerationStatus, p.SocialNetwork,
			p.GenerationMetadata.AgentUsed, truncate(p.Title, 40))
	}
	return w.Flush()
}

func millis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
