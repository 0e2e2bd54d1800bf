package rss

import (
	"bytes"
	"errors"
	"fmt"

	gfrss "github.com/mmcdole/gofeed/rss"
	xpp "github.com/mmcdole/goxpp"

	"github.com/scipunch/updatesbot/feed"
	"github.com/scipunch/updatesbot/parser"
)

// Parser reads the RSS 2.0 documents served by Google blogs.
type Parser struct{}

// New creates a new RSS parser
func New() Parser {
	return Parser{}
}

// Parse maps every channel item onto an update keyed by its guid.
func (p Parser) Parse(feedID string, doc []byte) ([]feed.Update, error) {
	var rp gfrss.Parser
	parsed, err := rp.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, parser.Malformed(feedID, feed.GoogleBlogRSS, err)
	}
	if err := requireChannel(doc); err != nil {
		return nil, parser.Malformed(feedID, feed.GoogleBlogRSS, err)
	}

	updates := make([]feed.Update, 0, len(parsed.Items))
	for i, item := range parsed.Items {
		if item.GUID == nil || item.GUID.Value == "" {
			return nil, parser.Malformed(feedID, feed.GoogleBlogRSS, fmt.Errorf("item %d has no guid", i))
		}
		published, publishedAt := feed.DisplayDate(item.PubDateParsed, item.PubDate)

		updates = append(updates, feed.Update{
			Feed:        feedID,
			ID:          item.GUID.Value,
			Published:   published,
			PublishedAt: publishedAt,
			Title:       item.Title,
			Content:     item.Description,
			Link:        item.Link,
		})
	}

	return parser.DropDuplicates(feedID, updates), nil
}

// requireChannel fails unless the root element has a channel child.
// gofeed reads a document without one as an empty feed.
func requireChannel(doc []byte) error {
	found := false
	err := parser.Walk(doc, func(tag *xpp.XMLPullParser) {
		if tag.Depth == 2 && tag.Name == "channel" {
			found = true
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return errors.New("document has no channel")
	}
	return nil
}
