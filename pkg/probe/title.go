package probe

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Text of the first <title>, whitespace collapsed. Empty when missing.
func extractTitle(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}

	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		r = bytes.NewReader(body)
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return ""
	}
	title := doc.Find("title").First().Text()
	return strings.Join(strings.Fields(title), " ")
}
