package model

import (
	"sort"
	"time"
)

// Message is one normalized email fetched from an account
type Message struct {
	ID         string    `json:"id"`                // Provider message id, unique per account
	Account    string    `json:"account"`           // Account label the message came from
	Subject    string    `json:"subject"`           // Subject line
	Sender     string    `json:"sender"`            // From header as received
	ReceivedAt time.Time `json:"received_at"`       // Received timestamp
	Body       string    `json:"body"`              // Plain-text body, HTML stripped
	Size       int       `json:"size"`              // Byte size reported by the source
	Snippet    string    `json:"snippet,omitempty"` // Optional provider preview text
	Links      []string  `json:"links,omitempty"`   // Absolute http(s) links found in an HTML body
}

// MessageLess reports whether a sorts before b: received time, then id, then account.
func MessageLess(a, b Message) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Account < b.Account
}

// SortMessages orders messages canonically in place
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return MessageLess(msgs[i], msgs[j])
	})
}

// CategoryScore is one category label with the model's confidence in it
type CategoryScore struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
}

// ClassifiedItem wraps a Message with the newsworthiness decision
type ClassifiedItem struct {
	Message      Message         `json:"message"`
	IsNewsworthy bool            `json:"is_newsworthy"`
	Confidence   float64         `json:"confidence"`           // In [0,1]
	Categories   []CategoryScore `json:"categories,omitempty"` // Ordered, strongest first
	Reason       string          `json:"reason,omitempty"`     // Short model explanation
}

// PrimaryCategory returns the first category label, or CategoryOther
func (c ClassifiedItem) PrimaryCategory() Category {
	if len(c.Categories) == 0 {
		return CategoryOther
	}
	return c.Categories[0].Category
}

// SecondaryCategories returns the remaining labels in order without duplicates
func (c ClassifiedItem) SecondaryCategories() []Category {
	if len(c.Categories) < 2 {
		return nil
	}
	primary := c.PrimaryCategory()
	seen := map[Category]bool{primary: true}
	var out []Category
	for _, cs := range c.Categories[1:] {
		if seen[cs.Category] {
			continue
		}
		seen[cs.Category] = true
		out = append(out, cs.Category)
	}
	return out
}
