package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	incidentapp "safety-cloud/internal/incidents/application"
	incidents "safety-cloud/internal/incidents/domain"
)

type typeSummary struct {
	Type  incidents.Type
	Level incidents.Level
	Count int
}

func summarize(list []incidents.Incident) []typeSummary {
	counts := make(map[incidents.Type]int, len(list))
	for _, incident := range list {
		counts[incident.Type]++
	}
	out := make([]typeSummary, 0, len(counts))
	for _, t := range incidents.Types() {
		class, _ := incidents.Classify(t)
		out = append(out, typeSummary{Type: t, Level: class.Level, Count: counts[t]})
	}
	return out
}

func formatEnd(incident incidents.Incident) string {
	if incident.EndAt == nil {
		return "-"
	}
	return incident.EndAt.Format(time.RFC3339)
}

// BuildDayReportPDF renders the incidents of one day as a PDF.
func BuildDayReportPDF(day *incidentapp.Day) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Safety Incident Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Date: %s (UTC)", day.Date.Format(incidents.DateLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Incidents: %d", len(day.Incidents)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Count", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, row := range summarize(day.Incidents) {
		pdf.CellFormat(70, 6, string(row.Type), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, row.Level.String(), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", row.Count), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(15, 6, "ID", "1", 0, "C", false, 0, "")
	pdf.CellFormat(75, 6, "Stream", "1", 0, "C", false, 0, "")
	pdf.CellFormat(55, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Start", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "End", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, incident := range day.Incidents {
		pdf.CellFormat(15, 6, fmt.Sprintf("%d", incident.ID), "1", 0, "R", false, 0, "")
		pdf.CellFormat(75, 6, incident.StreamKey, "1", 0, "L", false, 0, "")
		pdf.CellFormat(55, 6, string(incident.Type), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, incident.Level.String(), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, incident.StartAt.Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, formatEnd(incident), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDayReportXLSX renders the incidents of one day as a workbook with a
// summary sheet and an incidents sheet.
func BuildDayReportXLSX(day *incidentapp.Day) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	incidentsSheet := "incidents"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(incidentsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Safety Incident Report")
	_ = f.SetCellValue(summarySheet, "A3", "Date")
	_ = f.SetCellValue(summarySheet, "B3", day.Date.Format(incidents.DateLayout))
	_ = f.SetCellValue(summarySheet, "A4", "Incidents")
	_ = f.SetCellValue(summarySheet, "B4", len(day.Incidents))
	_ = f.SetCellValue(summarySheet, "A6", "Type")
	_ = f.SetCellValue(summarySheet, "B6", "Level")
	_ = f.SetCellValue(summarySheet, "C6", "Count")
	for i, row := range summarize(day.Incidents) {
		r := i + 7
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", r), string(row.Type))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", r), row.Level.String())
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", r), row.Count)
	}

	headers := []string{"ID", "Stream", "Type", "Level", "Reason", "Start", "End", "Video"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(incidentsSheet, cell, header)
	}
	for i, incident := range day.Incidents {
		r := i + 2
		_ = f.SetCellValue(incidentsSheet, fmt.Sprintf("A%d", r), incident.ID)
		_ = f.SetCellValue(incidentsSheet, fmt.Sprintf("B%d", r), incident.StreamKey)
		_ = f.SetCellValue(incidentsSheet, fmt.Sprintf("C%d", r), string(incident.Type))
		_ = f.SetCellValue(incidentsSheet, fmt.Sprintf("D%d", r), incident.Level.String())
		_ = f.SetCellValue(incidentsSheet, fmt.Sprintf("E%d", r), incident.Reason)
		_ = f.SetCellValue(incidentsSheet, fmt.Sprintf("F%d", r), incident.StartAt.Format(time.RFC3339))
		_ = f.SetCellValue(incidentsSheet, fmt.Sprintf("G%d", r), formatEnd(incident))
		_ = f.SetCellValue(incidentsSheet, fmt.Sprintf("H%d", r), incident.VideoURL)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
