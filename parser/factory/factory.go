package factory

import (
	"fmt"

	"github.com/scipunch/updatesbot/feed"
	"github.com/scipunch/updatesbot/parser"
	"github.com/scipunch/updatesbot/parser/atom"
	"github.com/scipunch/updatesbot/parser/rss"
)

// For returns the parser that understands the given wire format.
func For(format feed.Format) (parser.Parser, error) {
	switch format {
	case feed.FeedburnerAtom:
		return atom.New(), nil
	case feed.GoogleBlogRSS:
		return rss.New(), nil
	default:
		return nil, fmt.Errorf("no parser for feed format %s", format)
	}
}
