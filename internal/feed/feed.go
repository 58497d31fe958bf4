// Package feed parses RSS 2.0 and Atom 1.0 feeds with encoding/xml,
// auto-detecting the format from the root element.
package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// Entry is one feed item.
type Entry struct {
	GUID      string
	Title     string
	Link      string
	Summary   string
	Content   string
	Published string
}

// Feed is a parsed RSS or Atom document. Entries keep document order,
// which for both formats is conventionally newest first.
type Feed struct {
	Title   string
	Link    string
	Entries []Entry
}

// Parse auto-detects and parses RSS 2.0 or Atom 1.0 XML.
func Parse(data []byte) (*Feed, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("feed: empty document")
	}
	switch rootElement(trimmed) {
	case "rss", "rdf":
		return parseRSS(data)
	case "feed":
		return parseAtom(data)
	default:
		return nil, fmt.Errorf("feed: unrecognized format (expected <rss> or <feed>)")
	}
}

func rootElement(data []byte) string {
	d := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := d.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			return strings.ToLower(se.Name.Local)
		}
	}
}

type rssDoc struct {
	Channel struct {
		Title string `xml:"title"`
		Link  string `xml:"link"`
		Items []struct {
			GUID        string `xml:"guid"`
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			Content     string `xml:"encoded"` // content:encoded
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

func parseRSS(data []byte) (*Feed, error) {
	var doc rssDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("feed: parse rss: %w", err)
	}
	f := &Feed{Title: doc.Channel.Title, Link: doc.Channel.Link}
	for _, it := range doc.Channel.Items {
		guid := strings.TrimSpace(it.GUID)
		if guid == "" {
			guid = strings.TrimSpace(it.Link)
		}
		if guid == "" {
			continue
		}
		f.Entries = append(f.Entries, Entry{
			GUID:      guid,
			Title:     strings.TrimSpace(it.Title),
			Link:      strings.TrimSpace(it.Link),
			Summary:   strings.TrimSpace(it.Description),
			Content:   strings.TrimSpace(it.Content),
			Published: strings.TrimSpace(it.PubDate),
		})
	}
	return f, nil
}

type atomDoc struct {
	Title   string     `xml:"title"`
	Links   []atomLink `xml:"link"`
	Entries []struct {
		ID        string     `xml:"id"`
		Title     string     `xml:"title"`
		Links     []atomLink `xml:"link"`
		Summary   string     `xml:"summary"`
		Content   string     `xml:"content"`
		Updated   string     `xml:"updated"`
		Published string     `xml:"published"`
	} `xml:"entry"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

func parseAtom(data []byte) (*Feed, error) {
	var doc atomDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("feed: parse atom: %w", err)
	}
	f := &Feed{Title: doc.Title, Link: pickLink(doc.Links)}
	for _, e := range doc.Entries {
		guid := strings.TrimSpace(e.ID)
		link := pickLink(e.Links)
		if guid == "" {
			guid = link
		}
		if guid == "" {
			continue
		}
		published := e.Published
		if published == "" {
			published = e.Updated
		}
		f.Entries = append(f.Entries, Entry{
			GUID:      guid,
			Title:     strings.TrimSpace(e.Title),
			Link:      link,
			Summary:   strings.TrimSpace(e.Summary),
			Content:   strings.TrimSpace(e.Content),
			Published: strings.TrimSpace(published),
		})
	}
	return f, nil
}

// pickLink prefers rel="alternate" (or no rel), falling back to the first.
func pickLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}
