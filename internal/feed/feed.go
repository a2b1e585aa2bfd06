// Package feed reads journal table-of-contents feeds and returns the article
// links they announce.
//
// Three formats are accepted, detected from the root element:
//   - <rss> (RSS 2.0): channel/item/link
//   - <rdf:RDF> (RSS 1.0): channel/items/rdf:Seq/rdf:li/@rdf:resource, then item/link
//   - <feed> (Atom 1.0): entry/link/@href
package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrUnknownFormat = errors.New("feed: unknown format")

// Entry is one announced article.
type Entry struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Feed is a parsed feed.
type Feed struct {
	Title   string  `json:"title"`
	Entries []Entry `json:"entries"`
}

// Links returns the entry links in feed order.
func (f *Feed) Links() []string {
	out := make([]string, 0, len(f.Entries))
	for _, e := range f.Entries {
		if e.Link != "" {
			out = append(out, e.Link)
		}
	}
	return out
}

// Parse detects the feed format and parses it. Relative links are resolved
// against base when base is a valid URL.
func Parse(data []byte, base string) (*Feed, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("feed: empty data")
	}

	var (
		f   *Feed
		err error
	)
	switch detectFormat(trimmed) {
	case "rss":
		f, err = parseRSS(trimmed)
	case "rdf":
		f, err = parseRDF(trimmed)
	case "atom":
		f, err = parseAtom(trimmed)
	default:
		return nil, ErrUnknownFormat
	}
	if err != nil {
		return nil, err
	}

	resolve(f, base)
	return f, nil
}

func detectFormat(data []byte) string {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	for {
		tok, err := d.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			switch strings.ToLower(se.Name.Local) {
			case "rss":
				return "rss"
			case "rdf":
				return "rdf"
			case "feed":
				return "atom"
			}
			return ""
		}
	}
}

func resolve(f *Feed, base string) {
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return
	}
	for i := range f.Entries {
		if f.Entries[i].Link == "" {
			continue
		}
		ref, err := url.Parse(f.Entries[i].Link)
		if err != nil {
			continue
		}
		f.Entries[i].Link = b.ResolveReference(ref).String()
	}
}

// --- RSS 2.0 ---

type rssRoot struct {
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title string `xml:"title"`
			Link  string `xml:"link"`
			GUID  struct {
				Value       string `xml:",chardata"`
				IsPermaLink string `xml:"isPermaLink,attr"`
			} `xml:"guid"`
		} `xml:"item"`
	} `xml:"channel"`
}

func parseRSS(data []byte) (*Feed, error) {
	var root rssRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("feed: parse rss: %w", err)
	}

	f := &Feed{
		Title:   strings.TrimSpace(root.Channel.Title),
		Entries: make([]Entry, 0, len(root.Channel.Items)),
	}
	for _, item := range root.Channel.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" && item.GUID.IsPermaLink != "false" {
			link = strings.TrimSpace(item.GUID.Value)
		}
		f.Entries = append(f.Entries, Entry{Title: strings.TrimSpace(item.Title), Link: link})
	}
	return f, nil
}

// --- RSS 1.0 (RDF) ---

// Publisher TOC feeds list every article in the channel's rdf:Seq even when
// the item elements are truncated, so the sequence is read first.
type rdfRoot struct {
	Channel struct {
		Title string `xml:"title"`
		Items struct {
			Seq struct {
				Li []struct {
					Resource string `xml:"resource,attr"`
				} `xml:"li"`
			} `xml:"Seq"`
		} `xml:"items"`
	} `xml:"channel"`
	Items []struct {
		About string `xml:"about,attr"`
		Title string `xml:"title"`
		Link  string `xml:"link"`
	} `xml:"item"`
}

func parseRDF(data []byte) (*Feed, error) {
	var root rdfRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("feed: parse rdf: %w", err)
	}

	titles := make(map[string]string, len(root.Items))
	for _, item := range root.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			link = strings.TrimSpace(item.About)
		}
		titles[link] = strings.TrimSpace(item.Title)
	}

	f := &Feed{Title: strings.TrimSpace(root.Channel.Title)}
	seen := make(map[string]bool)
	add := func(link string) {
		link = strings.TrimSpace(link)
		if link == "" || seen[link] {
			return
		}
		seen[link] = true
		f.Entries = append(f.Entries, Entry{Title: titles[link], Link: link})
	}

	for _, li := range root.Channel.Items.Seq.Li {
		add(li.Resource)
	}
	for _, item := range root.Items {
		if item.Link != "" {
			add(item.Link)
		} else {
			add(item.About)
		}
	}
	return f, nil
}

// --- Atom 1.0 ---

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomRoot struct {
	Title   string `xml:"title"`
	Entries []struct {
		ID    string     `xml:"id"`
		Title string     `xml:"title"`
		Links []atomLink `xml:"link"`
	} `xml:"entry"`
}

func parseAtom(data []byte) (*Feed, error) {
	var root atomRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("feed: parse atom: %w", err)
	}

	f := &Feed{
		Title:   strings.TrimSpace(root.Title),
		Entries: make([]Entry, 0, len(root.Entries)),
	}
	for _, e := range root.Entries {
		link := atomEntryLink(e.Links)
		if link == "" && strings.HasPrefix(strings.TrimSpace(e.ID), "http") {
			link = strings.TrimSpace(e.ID)
		}
		f.Entries = append(f.Entries, Entry{Title: strings.TrimSpace(e.Title), Link: link})
	}
	return f, nil
}

func atomEntryLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "alternate" || l.Rel == "" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}
