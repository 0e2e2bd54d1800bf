// Package feed holds the domain types shared by the parser, fetcher,
// dispatcher and workflow packages.
package feed

import (
	"fmt"
	"time"
)

// Format is the wire format a feed is published in.
type Format int

const (
	FeedburnerAtom Format = iota + 1
	GoogleBlogRSS
)

var formatNames = map[Format]string{
	FeedburnerAtom: "feedburner_atom",
	GoogleBlogRSS:  "google_blog_rss",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

func (f Format) MarshalText() ([]byte, error) {
	name, ok := formatNames[f]
	if !ok {
		return nil, fmt.Errorf("unknown feed format %d", int(f))
	}
	return []byte(name), nil
}

func (f *Format) UnmarshalText(text []byte) error {
	for format, name := range formatNames {
		if name == string(text) {
			*f = format
			return nil
		}
	}
	return fmt.Errorf("unknown feed format %q", string(text))
}

// Platform is the chat platform a webhook delivers to.
type Platform int

const (
	GoogleChat Platform = iota + 1
)

var platformNames = map[Platform]string{
	GoogleChat: "google_chat",
}

func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return fmt.Sprintf("platform(%d)", int(p))
}

func (p Platform) MarshalText() ([]byte, error) {
	name, ok := platformNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown webhook platform %d", int(p))
	}
	return []byte(name), nil
}

func (p *Platform) UnmarshalText(text []byte) error {
	for platform, name := range platformNames {
		if name == string(text) {
			*p = platform
			return nil
		}
	}
	return fmt.Errorf("unknown webhook platform %q", string(text))
}

// Webhook is an outbound notification target.
type Webhook struct {
	Key      string
	Name     string
	Platform Platform
	URL      string
}

// Feed is a configured syndication source together with its display and
// dispatch metadata.
type Feed struct {
	ID       string
	Format   Format
	Title    string
	Subtitle string
	Logo     string
	CTA      string
	Source   string
	Filters  []string
	Webhooks []Webhook
}

// Update is one normalized entry extracted from a feed fetch.
type Update struct {
	Feed        string
	ID          string // Atom id or RSS guid, used as the dedup key
	Published   string
	PublishedAt time.Time
	Title       string
	Content     string
	Link        string
}

// DisplayDateLayout renders dates the way the announcement cards show them.
const DisplayDateLayout = "Mon Jan 02 2006"

// DisplayDate formats a parsed publish date, falling back to the raw
// source text when the date could not be parsed.
func DisplayDate(parsed *time.Time, raw string) (string, time.Time) {
	if parsed == nil || parsed.IsZero() {
		return raw, time.Time{}
	}
	return parsed.Format(DisplayDateLayout), *parsed
}

// IDs projects updates onto their dedup keys, preserving order.
func IDs(updates []Update) []string {
	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
	}
	return ids
}
