// Package extract turns portal HTML into candidate ids, match totals and
// candidate records.
package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const candidateIDPrefix = "candidate-"

// ListingIDs returns every candidate id referenced by a listing page, in
// document order and possibly with duplicates.
func ListingIDs(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	var ids []string
	doc.Find(`[id^="candidate-"], [data-id]`).Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && strings.HasPrefix(id, candidateIDPrefix) {
			if digits := leadingDigits(strings.TrimPrefix(id, candidateIDPrefix)); digits != "" {
				ids = append(ids, digits)
			}
		}
		if id, ok := s.Attr("data-id"); ok {
			if digits := leadingDigits(id); digits != "" {
				ids = append(ids, digits)
			}
		}
	})
	return ids, nil
}

// TotalMatches reads the portal's match counter. Dots used as thousands
// separators are ignored.
func TotalMatches(html string) (int, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, false
	}
	sel := doc.Find("span#MatchSearchTotal").First()
	if sel.Length() == 0 {
		return 0, false
	}
	text := strings.ReplaceAll(strings.TrimSpace(sel.Text()), ".", "")
	total, err := strconv.Atoi(text)
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}
