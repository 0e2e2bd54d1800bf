package parser

import (
	"bytes"

	xpp "github.com/mmcdole/goxpp"
	"golang.org/x/net/html/charset"
)

// Walk visits every start tag of doc in document order. The document is
// read with the same pull parser and charset handling gofeed uses, so a
// document gofeed accepted walks the same way. The root element has depth 1.
func Walk(doc []byte, visit func(tag *xpp.XMLPullParser)) error {
	p := xpp.NewXMLPullParser(bytes.NewReader(doc), false, charset.NewReaderLabel)
	for {
		event, err := p.NextToken()
		if err != nil {
			return err
		}
		switch event {
		case xpp.EndDocument:
			return nil
		case xpp.StartTag:
			visit(p)
		}
	}
}
