package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/PuerkitoBio/goquery"
)

// SourceDateLayout is the day/month/year form the site uses in option values
// and query parameters.
const SourceDateLayout = "02/01/2006"

const dateControlSelector = "#selectId"

// ErrDateControlMissing means the listing page has no date-selection control.
var ErrDateControlMissing = errors.New("date selection control not found")

// ParseDates returns every date offered by the listing page's date control,
// in page order. Options without a value are ignored.
func ParseDates(markup []byte) ([]civil.Date, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse listing document: %w", err)
	}
	control := doc.Find(dateControlSelector).First()
	if control.Length() == 0 {
		return nil, ErrDateControlMissing
	}

	var (
		dates    []civil.Date
		parseErr error
	)
	control.Find("option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
		raw, ok := opt.Attr("value")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			return true
		}
		d, err := ParseSourceDate(raw)
		if err != nil {
			parseErr = err
			return false
		}
		dates = append(dates, d)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return dates, nil
}

// ParseSourceDate parses a DD/MM/YYYY value.
func ParseSourceDate(raw string) (civil.Date, error) {
	t, err := time.Parse(SourceDateLayout, raw)
	if err != nil {
		return civil.Date{}, fmt.Errorf("parse source date %q: %w", raw, err)
	}
	return civil.DateOf(t), nil
}

// FormatSourceDate renders a date the way the site expects it in queries.
func FormatSourceDate(d civil.Date) string {
	return d.In(time.UTC).Format(SourceDateLayout)
}
