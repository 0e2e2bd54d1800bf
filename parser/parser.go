package parser

import (
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/scipunch/updatesbot/feed"
)

// Parser turns a raw feed document into updates in document order.
// Content is returned unshaped.
type Parser interface {
	Parse(feedID string, doc []byte) ([]feed.Update, error)
}

// MalformedFeedError reports a document that is not well-formed XML or
// lacks the structure its format requires.
type MalformedFeedError struct {
	Feed   string
	Format feed.Format
	Err    error
}

func (e *MalformedFeedError) Error() string {
	return fmt.Sprintf("malformed %s document for feed %s: %v", e.Format, e.Feed, e.Err)
}

func (e *MalformedFeedError) Unwrap() error {
	return e.Err
}

// Malformed wraps err into a MalformedFeedError.
func Malformed(feedID string, format feed.Format, err error) error {
	return &MalformedFeedError{Feed: feedID, Format: format, Err: err}
}

// DropDuplicates keeps the first update for every id.
func DropDuplicates(feedID string, updates []feed.Update) []feed.Update {
	unique := lo.UniqBy(updates, func(u feed.Update) string { return u.ID })
	if dropped := len(updates) - len(unique); dropped > 0 {
		slog.Warn("dropped duplicate update ids", "feed", feedID, "dropped", dropped)
	}
	return unique
}
