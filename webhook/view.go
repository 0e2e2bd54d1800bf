package webhook

import (
	"fmt"

	"github.com/scipunch/updatesbot/feed"
)

// View renders one update of a feed into the JSON body a platform expects.
type View interface {
	Render(f feed.Feed, u feed.Update) any
}

// ViewFor returns the view for a chat platform.
func ViewFor(platform feed.Platform) (View, error) {
	switch platform {
	case feed.GoogleChat:
		return ChatView{}, nil
	default:
		return nil, fmt.Errorf("no view for platform %s", platform)
	}
}

// ChatView renders Google Chat card messages.
type ChatView struct{}

type ChatMessage struct {
	Cards []Card `json:"cards"`
}

type Card struct {
	Header   CardHeader `json:"header"`
	Sections []Section  `json:"sections"`
}

type CardHeader struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	ImageURL string `json:"imageUrl"`
}

type Section struct {
	Widgets []Widget `json:"widgets"`
}

type Widget struct {
	TextParagraph *TextParagraph `json:"textParagraph,omitempty"`
	Buttons       []Button       `json:"buttons,omitempty"`
}

type TextParagraph struct {
	Text string `json:"text"`
}

type Button struct {
	TextButton TextButton `json:"textButton"`
}

type TextButton struct {
	Text    string  `json:"text"`
	OnClick OnClick `json:"onClick"`
}

type OnClick struct {
	OpenLink OpenLink `json:"openLink"`
}

type OpenLink struct {
	URL string `json:"url"`
}

// Render builds a card with the feed branding in the header, the bold
// title and shaped content in the first section and a single button
// linking to the update.
func (ChatView) Render(f feed.Feed, u feed.Update) any {
	return ChatMessage{
		Cards: []Card{{
			Header: CardHeader{
				Title:    f.Title,
				Subtitle: f.Subtitle,
				ImageURL: f.Logo,
			},
			Sections: []Section{
				{Widgets: []Widget{
					{TextParagraph: &TextParagraph{Text: "<b>" + u.Title + "</b>"}},
					{TextParagraph: &TextParagraph{Text: u.Content}},
				}},
				{Widgets: []Widget{{
					Buttons: []Button{{
						TextButton: TextButton{
							Text:    f.CTA,
							OnClick: OnClick{OpenLink: OpenLink{URL: u.Link}},
						},
					}},
				}}},
			},
		}},
	}
}
