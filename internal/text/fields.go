// Package text normalizes the free-text fields scraped from journal pages.
package text

import (
	"regexp"
	"strings"
	"time"
)

// NotAvailable marks a metadata field the source page did not provide.
const NotAvailable = "N/A"

var (
	spaceRe    = regexp.MustCompile(`\s+`)
	headingRe  = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	emphasisRe = regexp.MustCompile(`(\*\*|__|\*|_)([^*_]+)(\*\*|__|\*|_)`)
	mdLinkRe   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	abstractRe = regexp.MustCompile(`(?i)^\s*abstract\s*[:.]?\s*`)
)

// Collapse trims s and folds every whitespace run into a single space.
func Collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// OrNA returns the collapsed value with invalid UTF-8 and NUL bytes removed,
// or NotAvailable when nothing is left.
func OrNA(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	s = Collapse(s)
	if s == "" {
		return NotAvailable
	}
	return s
}

// IsAvailable reports whether a field carries real content.
func IsAvailable(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, NotAvailable)
}

// JoinNonEmpty joins the available values with sep, skipping duplicates.
func JoinNonEmpty(values []string, sep string) string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = Collapse(v)
		if !IsAvailable(v) {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return strings.Join(out, sep)
}

// StripMarkdown reduces converted markdown to plain prose and drops a
// leading "Abstract" label.
func StripMarkdown(md string) string {
	md = headingRe.ReplaceAllString(md, "")
	md = mdLinkRe.ReplaceAllString(md, "$1")
	md = emphasisRe.ReplaceAllString(md, "$2")
	md = Collapse(md)
	return strings.TrimSpace(abstractRe.ReplaceAllString(md, ""))
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01",
	"2006/01",
	"January 2, 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2006",
	"Jan 2006",
	"2006",
}

// ParseDate understands the date shapes journals put in citation metadata.
// ok is false when none of them match.
func ParseDate(s string) (time.Time, bool) {
	s = Collapse(s)
	if !IsAvailable(s) {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
