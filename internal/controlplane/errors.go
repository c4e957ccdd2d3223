package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = errors.New("resource not found")
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrProgressNotFound = errors.New("no generation progress for campaign")
	ErrAtCapacity       = errors.New("generation capacity reached, try again later")
)
