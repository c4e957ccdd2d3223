package agents

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fentz26/postloom/internal/connectors"
	"github.com/fentz26/postloom/internal/models"
)

// characterLimits caps caption length per network.
var characterLimits = map[string]int{
	"twitter":   280,
	"x":         280,
	"instagram": 2200,
	"linkedin":  3000,
	"facebook":  63206,
	"tiktok":    2200,
}

// CharacterLimit returns the caption limit for a network, or 0 when unbounded.
func CharacterLimit(network string) int {
	return characterLimits[strings.ToLower(network)]
}

func checkLength(network, text string) error {
	limit := CharacterLimit(network)
	if limit == 0 {
		return nil
	}
	if n := utf8.RuneCountInString(text); n > limit {
		return fmt.Errorf("content too long for %s: %d characters (limit %d)", network, n, limit)
	}
	return nil
}

func captionPrompt(req Request) connectors.Prompt {
	ws := req.Workspace
	item := req.Item

	system := "You write engaging social media captions."
	if ws.Name != "" {
		system = fmt.Sprintf("You write engaging social media captions for %s.", ws.Name)
	}
	if limit := CharacterLimit(item.SocialNetwork); limit > 0 {
		system += fmt.Sprintf(" Stay under %d characters.", limit)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Network: %s\n", item.SocialNetwork)
	fmt.Fprintf(&b, "Title: %s\n", item.Title)
	fmt.Fprintf(&b, "Brief: %s\n", item.Description)
	if ws.Description != "" {
		fmt.Fprintf(&b, "Brand: %s\n", ws.Description)
	}
	if ws.Slogan != "" {
		fmt.Fprintf(&b, "Slogan: %s\n", ws.Slogan)
	}
	if len(ws.Colors) > 0 {
		fmt.Fprintf(&b, "Brand colors: %s\n", strings.Join(ws.Colors, ", "))
	}
	if len(item.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(item.Tags, ", "))
	}
	if !req.Item.ScheduledDate.IsZero() {
		fmt.Fprintf(&b, "Publishing on: %s\n", item.ScheduledDate.Format("2006-01-02"))
	}
	return connectors.Prompt{System: system, User: b.String()}
}

func imagePrompt(req Request) string {
	p := fmt.Sprintf("Social media image for %q: %s", req.Item.Title, req.Item.Description)
	if len(req.Workspace.Colors) > 0 {
		p += ". Use the colors " + strings.Join(req.Workspace.Colors, ", ")
	}
	return p
}

func overlayPrompt(req Request, slide, total int) connectors.Prompt {
	return connectors.Prompt{
		System: "You write short overlay headlines for branded templates. Reply with at most eight words.",
		User: fmt.Sprintf("Title: %s\nBrief: Slide %d of %d. %s\n",
			req.Item.Title, slide, total, req.Item.Description),
	}
}

func resourceIDs(resources []models.ResourceData) []string {
	if len(resources) == 0 {
		return nil
	}
	ids := make([]string, len(resources))
	for i, r := range resources {
		ids[i] = r.ID
	}
	return ids
}

func imageResources(resources []models.ResourceData) []string {
	var urls []string
	for _, r := range resources {
		if strings.HasPrefix(r.MimeType, "image/") && r.URL != "" {
			urls = append(urls, r.URL)
		}
	}
	return urls
}
