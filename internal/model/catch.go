// internal/model/catch.go
// Package model defines the data structures used throughout the FishNet vault service.
// These structures represent the core domain objects for catch records, social posts,
// and the ephemeral sync status reported to the UI.
package model

import (
	"strings"
	"time"
)

// CatchRecord represents one user-reported fish catch.
// A record is created locally with IsSynced=false and is flipped to true
// exactly once by the sync reconciler after a confirmed remote push.
// This corresponds to the catches table in storage.
type CatchRecord struct {
	ID              int64     `json:"id" db:"id"`                            // Locally-assigned sequential identifier
	Species         string    `json:"species" db:"species"`                  // Free-text species label
	Confidence      float64   `json:"confidence" db:"confidence"`            // Classifier confidence in [0,100]
	HealthScore     float64   `json:"healthScore" db:"health_score"`         // Classifier health score in [0,100]
	Count           int       `json:"count" db:"count"`                      // Number of fish in the photo, >= 1
	EstimatedWeight float64   `json:"estimatedWeight" db:"estimated_weight"` // Estimated weight in kilograms, >= 0
	Timestamp       time.Time `json:"timestamp" db:"created_at"`             // Creation time, immutable
	Latitude        float64   `json:"latitude" db:"latitude"`                // Degrees; (0,0) is the unknown-location sentinel
	Longitude       float64   `json:"longitude" db:"longitude"`              // Degrees; (0,0) is the unknown-location sentinel
	ImageRef        string    `json:"imageRef" db:"image_key"`               // Inline data URI before persistence, image-store key at rest
	IsSynced        bool      `json:"isSynced" db:"is_synced"`               // False at creation, monotone false -> true
}

// HasInlineImage reports whether the record still carries an inline image
// payload that must be rewritten to an image-store key before the record
// is considered at rest.
func (c *CatchRecord) HasInlineImage() bool {
	return strings.HasPrefix(c.ImageRef, "data:image")
}

// SocialPost represents a feed post created on this device.
// Posts created while offline stay Pending until the reconciler pushes them.
type SocialPost struct {
	ID              string    `json:"id"`              // ULID assigned at creation
	UserID          string    `json:"userId"`          // Author identifier
	Species         string    `json:"species"`         // Species label carried over from the catch
	Caption         string    `json:"caption"`         // Free-text caption
	ImageRef        string    `json:"imageRef"`        // Image-store key or external URL
	EstimatedWeight float64   `json:"estimatedWeight"` // Estimated weight in kilograms
	Latitude        float64   `json:"latitude"`        // Degrees; (0,0) when unknown
	Longitude       float64   `json:"longitude"`       // Degrees; (0,0) when unknown
	Timestamp       time.Time `json:"timestamp"`       // Creation time
	Pending         bool      `json:"pending"`         // True until pushed to the remote feed
}

// SyncStatus is the ephemeral, process-wide sync state snapshot.
// Consumers always receive a copy, never a live reference; only the
// last-sync timestamp survives a restart.
type SyncStatus struct {
	IsOnline       bool       `json:"isOnline"`       // Current connectivity as reported by the UI
	PendingCatches int        `json:"pendingCatches"` // Count of locally-unsynced catch records
	PendingPosts   int        `json:"pendingPosts"`   // Count of locally-pending social posts
	LastSyncTime   *time.Time `json:"lastSyncTime"`   // Completion time of the last sync cycle, nil if never
	IsSyncing      bool       `json:"isSyncing"`      // True while a sync cycle is running
}

// Stats holds aggregate counts over the catch store.
// Recomputed on demand, never cached.
type Stats struct {
	TotalCatches  int `json:"totalCatches"`  // All records in the store
	UniqueSpecies int `json:"uniqueSpecies"` // Distinct species labels
	UnsyncedCount int `json:"unsyncedCount"` // Records with IsSynced=false
}

// Prediction is the result of the external species classifier.
// The vault treats all fields as opaque scores.
type Prediction struct {
	Species         string  `json:"species"`         // Species label
	Confidence      float64 `json:"confidence"`      // Score in [0,100]
	HealthScore     float64 `json:"healthScore"`     // Score in [0,100]
	EstimatedWeight float64 `json:"estimatedWeight"` // Kilograms
	EstimatedCount  int     `json:"estimatedCount"`  // Number of fish detected
}

// CreateCatchRequest represents the request body for logging a catch.
// Species and scores may be omitted, in which case the classifier is
// consulted with the inline image payload.
type CreateCatchRequest struct {
	Species         string   `json:"species,omitempty"`
	Confidence      float64  `json:"confidence,omitempty"`
	HealthScore     float64  `json:"healthScore,omitempty"`
	Count           int      `json:"count,omitempty"`
	EstimatedWeight float64  `json:"estimatedWeight,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`  // Nil degrades to the (0,0) sentinel
	Longitude       *float64 `json:"longitude,omitempty"` // Nil degrades to the (0,0) sentinel
	ImageData       string   `json:"imageData,omitempty"` // Inline data URI photo payload
}

// CreateCatchData contains the details of a successfully logged catch.
type CreateCatchData struct {
	ID        int64     `json:"id"`        // Assigned record identifier
	ImageKey  string    `json:"imageKey"`  // Image-store key, empty if no photo was attached
	Timestamp time.Time `json:"timestamp"` // Record creation time
}

// SyncResult reports the outcome of a sync cycle to the caller of a
// manual force-sync request.
type SyncResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"` // Reason string when Success is false
}
