package extract

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"medrag/internal/article"
	"medrag/internal/text"
)

// CitationExtractor reads the Highwire/Dublin Core <meta> tags most journal
// platforms emit for indexers.
type CitationExtractor struct {
	policy *bluemonday.Policy
}

func NewCitationExtractor() *CitationExtractor {
	return &CitationExtractor{policy: bluemonday.StrictPolicy()}
}

// metaTags maps lower-cased meta names (or og properties) to their contents
// in document order.
type metaTags map[string][]string

func (m metaTags) first(names ...string) string {
	for _, n := range names {
		for _, v := range m[strings.ToLower(n)] {
			if text.IsAvailable(v) {
				return v
			}
		}
	}
	return ""
}

func (m metaTags) all(names ...string) []string {
	var out []string
	for _, n := range names {
		out = append(out, m[strings.ToLower(n)]...)
	}
	return out
}

func (c *CitationExtractor) Extract(pageURL string, body []byte) (article.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return article.Record{}, fmt.Errorf("parse document: %w", err)
	}
	return c.fromDocument(pageURL, doc)
}

func (c *CitationExtractor) fromDocument(pageURL string, doc *goquery.Document) (article.Record, error) {
	meta := c.collectMeta(doc)

	rec := article.Record{
		URL:          pageURL,
		Title:        meta.first("citation_title", "dc.title", "og:title"),
		Abstract:     meta.first("citation_abstract", "dc.description", "og:description"),
		JournalTitle: meta.first("citation_journal_title", "prism.publicationname"),
		Publisher:    meta.first("citation_publisher", "dc.publisher"),
		Volume:       meta.first("citation_volume", "prism.volume"),
		Issue:        meta.first("citation_issue", "prism.number"),
		ISSN:         meta.first("citation_issn", "prism.issn"),
		Language:     meta.first("citation_language", "dc.language"),
		Identifier:   meta.first("citation_doi", "dc.identifier"),
		Authors:      text.JoinNonEmpty(meta.all("citation_author"), ", "),
		Contributors: text.JoinNonEmpty(meta.all("dc.contributor"), ", "),
		PDFLink:      resolveLink(pageURL, meta.first("citation_pdf_url")),
		Keywords:     text.JoinNonEmpty(meta.all("citation_keywords"), ", "),
	}
	if rec.Authors == "" {
		rec.Authors = text.JoinNonEmpty(meta.all("dc.creator"), ", ")
	}

	date := meta.first("citation_publication_date", "citation_online_date", "citation_date", "dc.date", "prism.publicationdate")
	if t, ok := text.ParseDate(date); ok {
		rec.PublicationDate = &t
	}

	if !text.IsAvailable(rec.Title) && !text.IsAvailable(rec.Abstract) {
		return rec, fmt.Errorf("%w: %s", ErrNoMetadata, pageURL)
	}
	return normalize(rec), nil
}

func (c *CitationExtractor) collectMeta(doc *goquery.Document) metaTags {
	meta := make(metaTags)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok {
			name, ok = s.Attr("property")
		}
		if !ok {
			return
		}
		content, _ := s.Attr("content")
		content = c.clean(content)
		if content == "" {
			return
		}
		key := strings.ToLower(strings.TrimSpace(name))
		meta[key] = append(meta[key], content)
	})
	return meta
}

// clean strips any markup publishers leave inside meta content.
func (c *CitationExtractor) clean(s string) string {
	return text.Collapse(html.UnescapeString(c.policy.Sanitize(s)))
}

func normalize(rec article.Record) article.Record {
	rec.Title = text.OrNA(rec.Title)
	rec.Abstract = text.OrNA(rec.Abstract)
	rec.JournalTitle = text.OrNA(rec.JournalTitle)
	rec.Publisher = text.OrNA(rec.Publisher)
	rec.Volume = text.OrNA(rec.Volume)
	rec.Issue = text.OrNA(rec.Issue)
	rec.ISSN = text.OrNA(rec.ISSN)
	rec.Language = text.OrNA(rec.Language)
	rec.Identifier = text.OrNA(rec.Identifier)
	rec.Authors = text.OrNA(rec.Authors)
	rec.Contributors = text.OrNA(rec.Contributors)
	rec.PDFLink = text.OrNA(rec.PDFLink)
	rec.Keywords = text.OrNA(rec.Keywords)
	rec.Summary = text.OrNA(rec.Summary)
	return rec
}

func resolveLink(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
