package model

import (
	"fmt"
	"strings"
	"time"
)

// Category is a digest section label
type Category string

const (
	CategoryAI            Category = "AI"
	CategoryEconomy       Category = "Economy"
	CategoryStocks        Category = "Stocks"
	CategoryPrivateEquity Category = "Private Equity"
	CategoryPolitics      Category = "Politics"
	CategoryTechnology    Category = "Technology"
	CategoryOther         Category = "Other"
)

// Categories lists every category in presentation order
var Categories = []Category{
	CategoryAI,
	CategoryEconomy,
	CategoryStocks,
	CategoryPrivateEquity,
	CategoryPolitics,
	CategoryTechnology,
	CategoryOther,
}

// ParseCategory maps a label to a Category, case-insensitively.
// Unknown labels map to CategoryOther with ok=false.
func ParseCategory(label string) (Category, bool) {
	label = strings.TrimSpace(label)
	for _, c := range Categories {
		if strings.EqualFold(string(c), label) {
			return c, true
		}
	}
	return CategoryOther, false
}

// StoryCandidate is one atomic story extracted from one ClassifiedItem
type StoryCandidate struct {
	ID                  string     `json:"id"`                             // "<message id>#<n>"
	Title               string     `json:"title"`
	Summary             string     `json:"summary"`
	KeyPoints           []string   `json:"key_points,omitempty"`
	SourceURLs          []string   `json:"source_urls,omitempty"`
	SourceMessageID     string     `json:"source_message_id"`              // Back-reference, not ownership
	SourceAccount       string     `json:"source_account"`
	ReceivedAt          time.Time  `json:"received_at"`                    // Timestamp of the source message
	PrimaryCategory     Category   `json:"primary_category"`
	SecondaryCategories []Category `json:"secondary_categories,omitempty"` // Ordered set
	Confidence          float64    `json:"confidence"`                     // Extraction confidence in [0,1]
	Fallback            bool       `json:"fallback,omitempty"`             // Built without a model answer
}

// CandidateID builds the candidate id for the n-th story of a message.
// The index is zero padded so ids of one message sort in story order.
func CandidateID(messageID string, n int) string {
	return fmt.Sprintf("%s#%03d", messageID, n)
}

// CandidateLess is the canonical candidate order: timestamp, source message id, candidate id
func CandidateLess(a, b StoryCandidate) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	if a.SourceMessageID != b.SourceMessageID {
		return a.SourceMessageID < b.SourceMessageID
	}
	return a.ID < b.ID
}

// StoryCluster is a set of candidates describing the same real-world event
type StoryCluster struct {
	Representative   StoryCandidate   `json:"representative"`
	Members          []StoryCandidate `json:"members"`            // Canonical order, includes the representative
	SourceMessageIDs []string         `json:"source_message_ids"` // Merged, first-seen order
	Accounts         []string         `json:"accounts"`
	SourceURLs       []string         `json:"source_urls,omitempty"`
	Category         Category         `json:"category"`
}

// Size returns the number of members
func (c StoryCluster) Size() int {
	return len(c.Members)
}

// CategorySection groups clusters under one category for presentation
type CategorySection struct {
	Category Category       `json:"category"`
	Stories  []StoryCluster `json:"stories"`
	Overflow int            `json:"overflow,omitempty"` // Clusters cut by the per-category limit
}
