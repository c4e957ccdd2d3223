package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/postloom/internal/config"
	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/orchestrator"
)

var publicationCmd = &cobra.Command{
	Use:   "publication",
	Short: "Inspect and regenerate publications",
}

var publicationRegenerateCmd = &cobra.Command{
	Use:   "regenerate [publication-id]",
	Short: "Regenerate a single publication",
	Long: `Regenerates one publication and records the previous content in its history.
Without --plan the publication is rebuilt from its stored fields.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublicationRegenerate,
}

var publicationHistoryCmd = &cobra.Command{
	Use:   "history [publication-id]",
	Short: "Show regeneration history",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublicationHistory,
}

const regenerateTimeout = 5 * time.Minute

var (
	regenPlanPath string
	regenItemID   string
)

func init() {
	publicationCmd.AddCommand(publicationRegenerateCmd, publicationHistoryCmd)

	publicationRegenerateCmd.Flags().StringVar(&regenPlanPath, "plan", "", "Plan file providing workspace, resources and templates")
	publicationRegenerateCmd.Flags().StringVar(&regenItemID, "item", "", "Plan item to regenerate from (defaults to the stored item)")
}

func runPublicationRegenerate(cmd *cobra.Command, args []string) error {
	var in orchestrator.RegenerateInput
	if regenPlanPath != "" {
		plan, err := config.LoadPlan(regenPlanPath)
		if err != nil {
			return err
		}
		in.Workspace = plan.Workspace
		in.Resources = plan.Resources
		in.Templates = plan.Templates
		if regenItemID != "" {
			found := false
			for _, item := range plan.Items {
				if item.ID == regenItemID {
					in.Item = item
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("item %q not found in %s", regenItemID, regenPlanPath)
			}
		}
	}

	// Regeneration waits on the provider.
	apiClient.Timeout = regenerateTimeout
	fmt.Println("Regenerating...")
	var pub models.Publication
	if err := apiPost("/publications/"+args[0]+"/regenerate", in, &pub); err != nil {
		return err
	}

	fmt.Printf("Publication %s: %s\n", pub.ID, pub.GenerationStatus)
	fmt.Printf("Agent: %s  (%dms)\n\n", pub.GenerationMetadata.AgentUsed, pub.GenerationMetadata.ProcessingTimeMs)
	fmt.Println(pub.GeneratedContent)
	for _, url := range pub.GeneratedImageURLs {
		fmt.Printf("  image: %s\n", url)
	}
	return nil
}

func runPublicationHistory(cmd *cobra.Command, args []string) error {
	var history []models.RegenerationHistory
	if err := apiGet("/publications/"+args[0]+"/history", &history); err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("No regenerations recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tAGENT\tPREVIOUS\tNEW")
	for _, h := range history {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.CreatedAt.Format(time.RFC3339), h.NewMetadata.AgentUsed,
			truncate(h.PreviousContent, 30), truncate(h.NewContent, 30))
	}
	return w.Flush()
}
