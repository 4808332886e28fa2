// Package search finds feedback by text. It prefers a Meilisearch index mirrored from
// the feedback cache and falls back to scanning the cached snapshot.
package search

import (
	"time"

	"labportal/client/internal/remote"
)

type Backend string

const (
	BackendMeili  Backend = "meilisearch"
	BackendMemory Backend = "memory"
)

// Result is a single search hit.
type Result struct {
	ID       remote.ID `json:"id"`
	Text     string    `json:"text"`
	Snippet  string    `json:"snippet"`
	UserID   remote.ID `json:"userId"`
	UserName string    `json:"userName"`
	Date     time.Time `json:"date"`
}

// Query describes a search request. An empty UserID searches everyone's feedback.
type Query struct {
	Text   string
	UserID remote.ID
	Limit  int
	Offset int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend Backend  `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push feedback into a search index.
type Indexer interface {
	IndexFeedback(records []Record) error
	DeleteFeedback(ids []string) error
	Healthy() bool
}

// Record is the data we index for one feedback item.
type Record struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Date     string `json:"date"`
}

func recordOf(f remote.Feedback) Record {
	return Record{
		ID:       f.ID.String(),
		Text:     f.Text,
		UserID:   f.UserID.String(),
		UserName: f.UserName,
		Date:     f.Date.UTC().Format(time.RFC3339Nano),
	}
}

const defaultLimit = 20

func limitOf(q Query) int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	return q.Limit
}
