package models

import "time"

// RawPage holds the rendered markup of one listing index page, exactly as the
// browser produced it. Parsing happens later so a page can be re-parsed offline.
type RawPage struct {
	Number     int
	URL        string
	FinalURL   string
	Title      string
	HTML       string
	EntryCount int
	FetchedAt  time.Time
}

// Listing is one observed ad and its acknowledgment state.
//
// Price and Date are opaque display strings; the source formats them
// inconsistently. ImageURL is nil when no image could be resolved.
type Listing struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Price     string    `json:"price"`
	Location  string    `json:"location"`
	Date      string    `json:"date"`
	Link      string    `json:"link"`
	ImageURL  *string   `json:"image_url"`
	ScrapedAt time.Time `json:"scraped_at"`
	Seen      bool      `json:"seen"`
}

// ListFilter narrows List results.
type ListFilter struct {
	IncludeSeen bool
}

// ReconcileResult reports the outcome of reconciling one batch of candidates.
// Total and Unseen reflect the store immediately after the batch was applied.
type ReconcileResult struct {
	NewlyAdded int `json:"newly_added"`
	Duplicates int `json:"duplicates"`
	Total      int `json:"total"`
	Unseen     int `json:"unseen"`
}

// Stats is derived from the stored records on every call.
type Stats struct {
	Total  int `json:"total_listings"`
	Unseen int `json:"unseen_listings"`
}

// SourceQuery configures what the fetcher asks the source for.
type SourceQuery struct {
	BaseURL         string
	Category        string
	Search          string
	MaxPages        int
	PageLoadTimeout time.Duration
}
