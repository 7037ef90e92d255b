// Package report renders race results as a PDF table.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-pdf/fpdf"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

const (
	title       = "Racing Data"
	utf8Family  = "cjk"
	coreFamily  = "Helvetica"
	marginMM    = 10.0
	rowHeightMM = 6.0
)

type column struct {
	zh, en string
	weight float64
	value  func(crawler.RaceRecord) string
}

var columns = []column{
	{"日期", "Date", 20, func(r crawler.RaceRecord) string { return r.Date.String() }},
	{"場次", "Race", 10, func(r crawler.RaceRecord) string { return strconv.Itoa(r.RaceNo) }},
	{"名次", "Place", 12, func(r crawler.RaceRecord) string { return r.Place }},
	{"馬號", "Horse No.", 14, func(r crawler.RaceRecord) string { return r.HorseNo }},
	{"馬名", "Horse", 30, func(r crawler.RaceRecord) string { return r.HorseName }},
	{"騎師", "Jockey", 22, func(r crawler.RaceRecord) string { return r.Jockey }},
	{"練馬師", "Trainer", 22, func(r crawler.RaceRecord) string { return r.Trainer }},
	{"排位體重", "Decl. Wt.", 16, func(r crawler.RaceRecord) string { return strconv.Itoa(r.DeclaredWeight) }},
	{"實際負磅", "Act. Wt.", 16, func(r crawler.RaceRecord) string { return strconv.Itoa(r.ActualWeight) }},
	{"檔位", "Draw", 10, func(r crawler.RaceRecord) string { return strconv.Itoa(r.Draw) }},
	{"頭馬距離", "LBW", 18, func(r crawler.RaceRecord) string { return r.WinningMargin }},
	{"沿途走位", "Running Pos.", 30, func(r crawler.RaceRecord) string { return r.RunningPositions }},
	{"完成時間", "Finish Time", 20, func(r crawler.RaceRecord) string { return r.FinishTime }},
	{"獨嬴賠率", "Win Odds", 14, func(r crawler.RaceRecord) string {
		return strconv.FormatFloat(r.WinOdds, 'f', -1, 64)
	}},
}

// Renderer produces PDF documents.
type Renderer struct {
	font []byte
}

// New builds a Renderer. fontPath names a TrueType font with CJK coverage;
// without one the core Helvetica font is used and English headings are shown.
func New(fontPath string) (*Renderer, error) {
	if fontPath == "" {
		return &Renderer{}, nil
	}
	font, err := os.ReadFile(fontPath) // #nosec G304 -- operator supplied font path.
	if err != nil {
		return nil, fmt.Errorf("read report font: %w", err)
	}
	return &Renderer{font: font}, nil
}

// Render writes records, which must already be sorted, as a landscape A4 table.
func (r *Renderer) Render(w io.Writer, records []crawler.RaceRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("no records to render")
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(false, marginMM)
	pdf.SetTitle(title, true)

	family := coreFamily
	text := pdf.UnicodeTranslatorFromDescriptor("")
	heading := func(c column) string { return c.en }
	dateLabel, raceLabel := "Date: ", "Race: "
	if len(r.font) > 0 {
		pdf.AddUTF8FontFromBytes(utf8Family, "", r.font)
		family = utf8Family
		text = func(s string) string { return s }
		heading = func(c column) string { return c.zh }
		dateLabel, raceLabel = "日期：", "場次："
	}

	pdf.AddPage()
	pageW, pageH := pdf.GetPageSize()
	widths := columnWidths(pageW - 2*marginMM)

	pdf.SetFont(family, "", 18)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
	dateLine, raceLine := subtitle(records)
	pdf.SetFont(family, "", 12)
	pdf.CellFormat(0, 7, text(dateLabel+dateLine), "", 1, "L", false, 0, "")
	if raceLine != "" {
		pdf.CellFormat(0, 7, text(raceLabel+raceLine), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)

	header := func() {
		pdf.SetFont(family, "", 8)
		pdf.SetFillColor(242, 242, 242)
		for i, c := range columns {
			pdf.CellFormat(widths[i], rowHeightMM, text(heading(c)), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
	}
	header()

	for _, rec := range records {
		if pdf.GetY()+rowHeightMM > pageH-marginMM {
			pdf.AddPage()
			header()
		}
		for i, c := range columns {
			pdf.CellFormat(widths[i], rowHeightMM, text(c.value(rec)), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func columnWidths(total float64) []float64 {
	var sum float64
	for _, c := range columns {
		sum += c.weight
	}
	out := make([]float64, len(columns))
	for i, c := range columns {
		out[i] = total * c.weight / sum
	}
	return out
}

// subtitle describes the span of records: one date with its race or race
// range, or a date range with no race line.
func subtitle(records []crawler.RaceRecord) (dateLine, raceLine string) {
	first, last := records[0], records[len(records)-1]
	if first.Date != last.Date {
		return first.Date.String() + " - " + last.Date.String(), ""
	}
	if first.RaceNo == last.RaceNo {
		return first.Date.String(), strconv.Itoa(first.RaceNo)
	}
	return first.Date.String(), fmt.Sprintf("%d - %d", first.RaceNo, last.RaceNo)
}
