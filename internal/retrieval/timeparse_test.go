package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimeRange(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		query string
		want  TimeRange
		ok    bool
	}{
		{"last week", "Show me articles on lungs from last week", TimeRange{"2025-03-08", "2025-03-15"}, true},
		{"last month", "cardiology papers last month", TimeRange{"2025-02-01", "2025-03-15"}, true},
		{"last year", "Last Year diabetes trials", TimeRange{"2024-01-01", "2024-12-31"}, true},
		{"yesterday", "what was published yesterday", TimeRange{"2025-03-14", "2025-03-14"}, true},
		{"iso date", "articles on 2024-12-05 about sepsis", TimeRange{"2024-12-05", "2024-12-05"}, true},
		{"month day year", "published December 5, 2024", TimeRange{"2024-12-05", "2024-12-05"}, true},
		{"day month year", "published 5 Dec 2024", TimeRange{"2024-12-05", "2024-12-05"}, true},
		{"month year", "gut microbiome studies from December 2024", TimeRange{"2024-12-01", "2024-12-31"}, true},
		{"short month year", "feb 2024 pediatrics", TimeRange{"2024-02-01", "2024-02-29"}, true},
		{"year", "glaucoma research in 2023", TimeRange{"2023-01-01", "2023-12-31"}, true},
		{"explicit range", "between 2024-01-01 and 2024-06-30", TimeRange{"2024-01-01", "2024-06-30"}, true},
		{"inverted range rejected", "between 2024-06-30 and 2024-01-01", TimeRange{}, false},
		{"invalid iso date", "on 2024-13-45", TimeRange{}, false},
		{"no date", "latest treatments for asthma", TimeRange{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimeRange(tt.query, now)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeRange_Filter(t *testing.T) {
	r := TimeRange{Start: "2024-12-01", End: "2024-12-31"}
	assert.Equal(t, "Filter results where `publication_date` BETWEEN '2024-12-01' AND '2024-12-31'. ", r.Filter())
}
