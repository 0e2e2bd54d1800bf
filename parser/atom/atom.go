package atom

import (
	"bytes"
	"fmt"

	gfatom "github.com/mmcdole/gofeed/atom"
	xpp "github.com/mmcdole/goxpp"

	"github.com/scipunch/updatesbot/feed"
	"github.com/scipunch/updatesbot/parser"
)

// Parser reads FeedBurner Atom documents.
type Parser struct{}

// New creates a new Atom parser
func New() Parser {
	return Parser{}
}

// Parse maps every Atom entry onto an update. The link is the first
// entry link whose rel attribute is "alternate"; links without a rel
// attribute never qualify.
func (p Parser) Parse(feedID string, doc []byte) ([]feed.Update, error) {
	var ap gfatom.Parser
	parsed, err := ap.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, parser.Malformed(feedID, feed.FeedburnerAtom, err)
	}
	links, err := alternateLinks(doc)
	if err != nil {
		return nil, parser.Malformed(feedID, feed.FeedburnerAtom, err)
	}

	updates := make([]feed.Update, 0, len(parsed.Entries))
	for i, entry := range parsed.Entries {
		if entry.ID == "" {
			return nil, parser.Malformed(feedID, feed.FeedburnerAtom, fmt.Errorf("entry %d has no id", i))
		}

		var content string
		if entry.Content != nil {
			content = entry.Content.Value
		}
		published, publishedAt := feed.DisplayDate(entry.PublishedParsed, entry.Published)

		updates = append(updates, feed.Update{
			Feed:        feedID,
			ID:          entry.ID,
			Published:   published,
			PublishedAt: publishedAt,
			Title:       entry.Title,
			Content:     content,
			Link:        linkAt(links, i),
		})
	}

	return parser.DropDuplicates(feedID, updates), nil
}

const atomNamespace = "http://www.w3.org/2005/Atom"

// alternateLinks returns, for every entry in document order, the href of
// its first link with an explicit rel="alternate". gofeed reports a
// missing rel as "alternate", so the raw attributes are read instead.
func alternateLinks(doc []byte) ([]string, error) {
	var links []string
	found := false
	err := parser.Walk(doc, func(tag *xpp.XMLPullParser) {
		if tag.Space != "" && tag.Space != atomNamespace {
			return
		}
		switch {
		case tag.Depth == 2 && tag.Name == "entry":
			links = append(links, "")
			found = false
		case tag.Depth == 3 && tag.Name == "link" && len(links) > 0 && !found:
			if tag.Attribute("rel") == "alternate" {
				links[len(links)-1] = tag.Attribute("href")
				found = true
			}
		}
	})
	return links, err
}

func linkAt(links []string, i int) string {
	if i < len(links) {
		return links[i]
	}
	return ""
}
