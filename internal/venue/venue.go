// Package venue associates the places an actor's website mentions (a chef's
// restaurants, a group's venues) with places in the serving table.
package venue

import (
	"time"

	"github.com/rotisserie/eris"
)

// Actor is a person or organization whose website mentions places.
type Actor struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Website string `json:"website" yaml:"website"`
}

// Mention is one reference to a place found on an actor's site.
type Mention struct {
	Name    string `json:"name" yaml:"name"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

// Bucket is a coarse confidence band for reviewers.
type Bucket string

// Confidence buckets.
const (
	BucketHigh   Bucket = "HIGH"
	BucketMedium Bucket = "MEDIUM"
	BucketLow    Bucket = "LOW"
)

// Status is the review state of a candidate association.
type Status string

// Review states.
const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ParseStatus validates a review status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	default:
		return "", eris.Errorf("venue: unknown status %q", s)
	}
}

// Match reasons.
const (
	ReasonURLSlug     = "url-slug"
	ReasonNameJaccard = "name-jaccard"
)

// CandidateAssociation is a proposed (actor, place) link awaiting review.
type CandidateAssociation struct {
	ID             int64     `json:"id" yaml:"id"`
	ActorID        string    `json:"actor_id" yaml:"actor_id"`
	ActorName      string    `json:"actor_name,omitempty" yaml:"actor_name,omitempty"`
	PlaceID        int64     `json:"place_id" yaml:"place_id"`
	DedupeKey      string    `json:"dedupe_key" yaml:"dedupe_key"`
	MentionName    string    `json:"mention_name" yaml:"mention_name"`
	MentionURL     string    `json:"mention_url,omitempty" yaml:"mention_url,omitempty"`
	MentionAddress string    `json:"mention_address,omitempty" yaml:"mention_address,omitempty"`
	Confidence     float64   `json:"confidence" yaml:"confidence"`
	Bucket         Bucket    `json:"bucket" yaml:"bucket"`
	Reason         string    `json:"reason" yaml:"reason"`
	Status         Status    `json:"status" yaml:"status"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at"`
}
