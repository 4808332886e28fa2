package search

import (
	"strings"

	"labportal/client/internal/remote"
)

// Memory scans whatever snapshot returns. It is always healthy.
type Memory struct {
	snapshot func() []remote.Feedback
}

func NewMemory(snapshot func() []remote.Feedback) *Memory {
	return &Memory{snapshot: snapshot}
}

func (m *Memory) Healthy() bool {
	return true
}

// Search matches text and author name case-insensitively. Items keep the snapshot's
// newest-first order.
func (m *Memory) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	var matches []Result
	for _, f := range m.snapshot() {
		if q.UserID != "" && f.UserID != q.UserID {
			continue
		}
		if !strings.Contains(strings.ToLower(f.Text), needle) &&
			!strings.Contains(strings.ToLower(f.UserName), needle) {
			continue
		}
		matches = append(matches, Result{
			ID:       f.ID,
			Text:     f.Text,
			Snippet:  f.Text,
			UserID:   f.UserID,
			UserName: f.UserName,
			Date:     f.Date,
		})
	}

	total := len(matches)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limitOf(q)
	if end > total {
		end = total
	}
	return matches[offset:end], total, nil
}
