// Package parser turns HKJC result markup into typed race records.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

// Placeholder is the dash token the site prints for an unknown numeric value.
const Placeholder = "---"

const (
	resultsTableSelector = "table.table_bd"
	headerRows           = 2

	// unsettledCells is the row width before a race has been run or settled.
	unsettledCells = 12
	// finalizedMinCells is the minimum row width once odds and positions exist.
	finalizedMinCells = 13
)

// Column positions shared by both layouts.
const (
	colPlace = iota
	colHorseNo
	colHorseName
	colJockey
	colTrainer
	colDeclaredWeight
	colActualWeight
	colDraw
	colMargin
	colRunningPositions
	colFinishTime
	colWinOdds
)

// colUnsettledFinishTime holds the finish time placeholder in the unsettled layout.
const colUnsettledFinishTime = colRunningPositions

var (
	// ErrMalformedRow marks a result row too narrow for either layout.
	ErrMalformedRow = errors.New("malformed result row")
	// ErrInvalidNumber marks a numeric column holding non-numeric text.
	ErrInvalidNumber = errors.New("invalid numeric value")
)

// ParseResults extracts every entry of the race's results table. A page
// without a results table yields no records and no error: that is how the
// site signals a race number that does not exist for the date.
func ParseResults(markup []byte, date civil.Date, raceNo int) ([]crawler.RaceRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse results document: %w", err)
	}
	table := doc.Find(resultsTableSelector).First()
	if table.Length() == 0 {
		return nil, nil
	}

	var (
		records []crawler.RaceRecord
		rowErr  error
	)
	table.Find("tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		if i < headerRows {
			return true
		}
		rec, err := parseRow(row.ChildrenFiltered("td"), date, raceNo)
		if err != nil {
			rowErr = fmt.Errorf("row %d: %w", i-headerRows+1, err)
			return false
		}
		records = append(records, rec)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return records, nil
}

func parseRow(cells *goquery.Selection, date civil.Date, raceNo int) (crawler.RaceRecord, error) {
	n := cells.Length()
	if n < unsettledCells {
		return crawler.RaceRecord{}, fmt.Errorf("%w: %d cells", ErrMalformedRow, n)
	}
	text := func(i int) string {
		return strings.TrimSpace(cells.Eq(i).Text())
	}

	rec := crawler.RaceRecord{
		Date:          date,
		RaceNo:        raceNo,
		Place:         text(colPlace),
		HorseNo:       text(colHorseNo),
		HorseName:     text(colHorseName),
		Jockey:        text(colJockey),
		Trainer:       text(colTrainer),
		WinningMargin: text(colMargin),
	}

	var err error
	if rec.DeclaredWeight, err = parseInt("declared weight", text(colDeclaredWeight)); err != nil {
		return crawler.RaceRecord{}, err
	}
	if rec.ActualWeight, err = parseInt("actual weight", text(colActualWeight)); err != nil {
		return crawler.RaceRecord{}, err
	}
	if rec.Draw, err = parseInt("draw", text(colDraw)); err != nil {
		return crawler.RaceRecord{}, err
	}

	if n < finalizedMinCells {
		rec.FinishTime = text(colUnsettledFinishTime)
		return rec, nil
	}
	rec.RunningPositions = joinText(cells.Eq(colRunningPositions))
	rec.FinishTime = text(colFinishTime)
	if rec.WinOdds, err = parseFloat("win odds", text(colWinOdds)); err != nil {
		return crawler.RaceRecord{}, err
	}
	return rec, nil
}

func parseInt(column, raw string) (int, error) {
	if raw == Placeholder {
		return 0, nil
	}
	if !isUnsignedDecimal(raw, false) {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidNumber, column, raw)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidNumber, column, raw)
	}
	return v, nil
}

func parseFloat(column, raw string) (float64, error) {
	if raw == Placeholder {
		return 0, nil
	}
	if !isUnsignedDecimal(raw, true) {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidNumber, column, raw)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidNumber, column, raw)
	}
	return v, nil
}

// isUnsignedDecimal accepts ASCII digits with at most one interior point
// when fraction is set. Signs, exponents, hex, NaN and Inf are rejected.
func isUnsignedDecimal(raw string, fraction bool) bool {
	digits, point := 0, false
	for i := 0; i < len(raw); i++ {
		switch c := raw[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && fraction && !point && digits > 0 && i < len(raw)-1:
			point = true
		default:
			return false
		}
	}
	return digits > 0
}

// joinText collects every non-blank text node under sel, trimmed and joined
// by a single space, so per-section codes nested in separate elements stay
// separated.
func joinText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
