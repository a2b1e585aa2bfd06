package job

import (
	"time"

	"medrag/internal/ledger"
)

// Job is an article link that used up its crawl attempts.
type Job struct {
	URL       string    `json:"article_link"`
	Source    string    `json:"journal_name"`
	Category  string    `json:"specialization"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error"`
	UpdatedAt time.Time `json:"next_attempt_at"`
}

func fromLink(l ledger.Link) Job {
	return Job{
		URL:       l.URL,
		Source:    l.SourceName,
		Category:  l.Category,
		Attempts:  l.Attempts,
		Error:     l.LastError,
		UpdatedAt: l.NextAttemptAt,
	}
}
