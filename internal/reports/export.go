package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

// Build renders h in format f.
func Build(h History, f Format) ([]byte, error) {
	switch f {
	case FormatPDF:
		return BuildHistoryPDF(h)
	case FormatXLSX:
		return BuildHistoryXLSX(h)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// BuildHistoryPDF renders a trip report.
func BuildHistoryPDF(h History) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Trip Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Vehicle: %s", displayName(h)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Device: %s", h.DeviceID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", h.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if h.Summary.Samples > 0 {
		pdf.Cell(0, 6, fmt.Sprintf("Period: %s - %s", h.Summary.From.Format(time.RFC3339), h.Summary.To.Format(time.RFC3339)))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Samples: %d", h.Summary.Samples))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Distance (km): %.2f", h.Summary.DistanceKm))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Max Speed (km/h): %.1f", h.Summary.MaxSpeedKmh))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Avg Speed (km/h): %.1f", h.Summary.AvgSpeedKmh))
	pdf.Ln(5)
	if h.Summary.MinBattery != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Min Battery (%%): %.0f", *h.Summary.MinBattery))
		pdf.Ln(5)
	}
	pdf.Ln(3)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(45, 6, "Time (UTC)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Lat", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Lng", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Speed", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Heading", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Battery", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, s := range h.Samples {
		pdf.CellFormat(45, 6, s.SampledAt.UTC().Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.5f", s.Lat), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.5f", s.Lng), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", s.SpeedKmh), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.0f", s.Heading), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, batteryText(s.Battery), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildHistoryXLSX renders a summary sheet and a samples sheet.
func BuildHistoryXLSX(h History) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	samplesSheet := "samples"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(samplesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Trip Report")
	_ = f.SetCellValue(summarySheet, "A3", "Vehicle")
	_ = f.SetCellValue(summarySheet, "B3", displayName(h))
	_ = f.SetCellValue(summarySheet, "A4", "Device")
	_ = f.SetCellValue(summarySheet, "B4", h.DeviceID)
	_ = f.SetCellValue(summarySheet, "A5", "Generated")
	_ = f.SetCellValue(summarySheet, "B5", h.GeneratedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Samples")
	_ = f.SetCellValue(summarySheet, "B6", h.Summary.Samples)
	_ = f.SetCellValue(summarySheet, "A7", "Distance (km)")
	_ = f.SetCellValue(summarySheet, "B7", round(h.Summary.DistanceKm, 3))
	_ = f.SetCellValue(summarySheet, "A8", "Max Speed (km/h)")
	_ = f.SetCellValue(summarySheet, "B8", h.Summary.MaxSpeedKmh)
	_ = f.SetCellValue(summarySheet, "A9", "Avg Speed (km/h)")
	_ = f.SetCellValue(summarySheet, "B9", round(h.Summary.AvgSpeedKmh, 2))
	if h.Summary.MinBattery != nil {
		_ = f.SetCellValue(summarySheet, "A10", "Min Battery (%)")
		_ = f.SetCellValue(summarySheet, "B10", *h.Summary.MinBattery)
	}

	headers := []string{"Time (UTC)", "Lat", "Lng", "Speed (km/h)", "Heading", "Battery (%)"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(samplesSheet, cell, header)
	}
	for i, s := range h.Samples {
		row := i + 2
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("A%d", row), s.SampledAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("B%d", row), s.Lat)
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("C%d", row), s.Lng)
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("D%d", row), s.SpeedKmh)
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("E%d", row), s.Heading)
		if s.Battery != nil {
			_ = f.SetCellValue(samplesSheet, fmt.Sprintf("F%d", row), *s.Battery)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func displayName(h History) string {
	if h.PlateNumber != "" {
		return h.PlateNumber
	}
	return h.DeviceID
}

func batteryText(level *float64) string {
	if level == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *level)
}

func round(value float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	return float64(int64(value*scale+0.5)) / scale
}
