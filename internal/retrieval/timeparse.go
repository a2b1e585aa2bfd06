package retrieval

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/uniplaces/carbon"
)

// TimeRange is an inclusive publication date window in YYYY-MM-DD form.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Filter renders the clause handed to the structured-query step.
func (r TimeRange) Filter() string {
	return fmt.Sprintf("Filter results where `publication_date` BETWEEN '%s' AND '%s'. ", r.Start, r.End)
}

const dateLayout = "2006-01-02"

var (
	monthNames  = `(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)`
	isoRangeRe  = regexp.MustCompile(`(?:between|from)\s+(\d{4}-\d{2}-\d{2})\s+(?:and|to|until)\s+(\d{4}-\d{2}-\d{2})`)
	isoDateRe   = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	mdyRe       = regexp.MustCompile(`\b` + monthNames + `\s+(\d{1,2}),?\s+(\d{4})\b`)
	dmyRe       = regexp.MustCompile(`\b(\d{1,2})\s+` + monthNames + `,?\s+(\d{4})\b`)
	monthYearRe = regexp.MustCompile(`\b` + monthNames + `\s+(\d{4})\b`)
	yearRe      = regexp.MustCompile(`\b(?:in|from|during|of)\s+((?:19|20)\d{2})\b`)
)

// ParseTimeRange extracts a publication window from a request. Relative
// phrases are resolved against now; absolute dates become a single day, a
// month or a year. ok is false when the text names no usable window,
// including an explicit range whose end precedes its start.
func ParseTimeRange(query string, now time.Time) (TimeRange, bool) {
	q := strings.ToLower(query)
	c := carbon.NewCarbon(now)
	today := c.DateString()

	switch {
	case strings.Contains(q, "last week"):
		return TimeRange{Start: c.SubDays(7).DateString(), End: today}, true
	case strings.Contains(q, "last month"):
		return TimeRange{Start: c.StartOfMonth().SubMonth().DateString(), End: today}, true
	case strings.Contains(q, "last year"):
		prev := c.SubYear()
		return TimeRange{Start: prev.StartOfYear().DateString(), End: prev.EndOfYear().DateString()}, true
	case strings.Contains(q, "yesterday"):
		day := c.SubDays(1).DateString()
		return TimeRange{Start: day, End: day}, true
	case strings.Contains(q, "today"):
		return TimeRange{Start: today, End: today}, true
	}

	if m := isoRangeRe.FindStringSubmatch(q); m != nil {
		start, err1 := time.Parse(dateLayout, m[1])
		end, err2 := time.Parse(dateLayout, m[2])
		if err1 != nil || err2 != nil || end.Before(start) {
			return TimeRange{}, false
		}
		return TimeRange{Start: m[1], End: m[2]}, true
	}
	if m := isoDateRe.FindStringSubmatch(q); m != nil {
		if _, err := time.Parse(dateLayout, m[1]); err == nil {
			return TimeRange{Start: m[1], End: m[1]}, true
		}
	}
	if m := mdyRe.FindStringSubmatch(q); m != nil {
		if day, ok := parseDay(m[1], m[2], m[3]); ok {
			return TimeRange{Start: day, End: day}, true
		}
	}
	if m := dmyRe.FindStringSubmatch(q); m != nil {
		if day, ok := parseDay(m[2], m[1], m[3]); ok {
			return TimeRange{Start: day, End: day}, true
		}
	}
	if m := monthYearRe.FindStringSubmatch(q); m != nil {
		if month, ok := parseMonth(m[1], m[2]); ok {
			mc := carbon.NewCarbon(month)
			return TimeRange{Start: mc.StartOfMonth().DateString(), End: mc.EndOfMonth().DateString()}, true
		}
	}
	if m := yearRe.FindStringSubmatch(q); m != nil {
		if year, err := time.Parse("2006", m[1]); err == nil {
			yc := carbon.NewCarbon(year)
			return TimeRange{Start: yc.StartOfYear().DateString(), End: yc.EndOfYear().DateString()}, true
		}
	}
	return TimeRange{}, false
}

func monthPrefix(name string) string {
	if len(name) > 3 {
		name = name[:3]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func parseDay(month, day, year string) (string, bool) {
	t, err := time.Parse("Jan 2 2006", monthPrefix(month)+" "+day+" "+year)
	if err != nil {
		return "", false
	}
	return t.Format(dateLayout), true
}

func parseMonth(month, year string) (time.Time, bool) {
	t, err := time.Parse("Jan 2006", monthPrefix(month)+" "+year)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
