// Package audit provides PDR (Process Decision Record) writing for Postloom.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/postloom/internal/models"
)

// Actions recorded by the orchestrator.
const (
	ActionGenerationStart  = "generation.start"
	ActionGenerationFinish = "generation.finish"
	ActionGenerationCancel = "generation.cancel"
	ActionRegenerate       = "publication.regenerate"
)

// Recorder persists decision records.
type Recorder interface {
	WritePDR(ctx context.Context, action, inputsHash, outcome, campaignID, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	store Recorder
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(r Recorder) *PDRWriter {
	return &PDRWriter{store: r}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(ctx context.Context, action string, inputs interface{}, outcome, campaignID, details string) (*models.PDREntry, error) {
	inputsHash := hashInputs(inputs)
	return w.store.WritePDR(ctx, action, inputsHash, outcome, campaignID, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
