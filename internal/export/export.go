// Package export renders ledger reports as XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"parkledger/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Bookings"

var headers = []string{"Booking", "Spot", "Requester", "Vehicle", "Entry", "Exit", "Rate/h", "Cost", "Status"}

// Source supplies the lot and its bookings ordered by spot then entry.
type Source interface {
	GetLot(ctx context.Context, id int64) (*models.Lot, error)
	GetLotBookings(ctx context.Context, lotID int64) ([]*models.Booking, error)
}

type Exporter struct {
	source Source
	path   string
	logger *zerolog.Logger
	now    func() time.Time
}

func NewExporter(source Source, path string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{source: source, path: path, logger: logger, now: time.Now}
}

// Revenue sums the cost of every booking that was not cancelled.
func Revenue(bookings []*models.Booking) models.Amount {
	var total models.Amount
	for _, b := range bookings {
		if b.Status != models.StatusCancelled {
			total += b.TotalCost
		}
	}
	return total
}

// LotReport builds the workbook for one lot. The caller must Close it.
func (e *Exporter) LotReport(ctx context.Context, lotID int64) (*excelize.File, error) {
	lot, err := e.source.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	bookings, err := e.source.GetLotBookings(ctx, lotID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	idx, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("%s (lot %d), generated %s",
		lot.Name, lot.ID, e.now().Format("02.01.2006 15:04")))
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	moneyStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 2})
	statusStyles := make(map[string]int)
	for status, color := range map[string]string{
		models.StatusActive:    "#C6EFCE",
		models.StatusCompleted: "#FFFFFF",
		models.StatusCancelled: "#FFC7CE",
	} {
		statusStyles[status], _ = f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
	}

	row := 3
	for _, b := range bookings {
		values := []interface{}{
			b.ID,
			b.SpotNumber,
			b.RequesterID,
			b.VehicleRef,
			b.EntryTime.UTC().Format("2006-01-02 15:04"),
			b.ExitTime.UTC().Format("2006-01-02 15:04"),
			b.HourlyRate.InexactFloat64(),
			b.TotalCost.Float64(),
			b.Status,
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, start, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing row: %w", err)
		}
		_ = f.SetCellStyle(sheetName, fmt.Sprintf("G%d", row), fmt.Sprintf("H%d", row), moneyStyle)
		if style, ok := statusStyles[b.Status]; ok {
			_ = f.SetCellStyle(sheetName, fmt.Sprintf("I%d", row), fmt.Sprintf("I%d", row), style)
		}
		row++
	}

	totalStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, NumFmt: 2})
	_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), "Total revenue")
	_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), Revenue(bookings).Float64())
	_ = f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("H%d", row), totalStyle)

	_ = f.SetColWidth(sheetName, "A", "B", 10)
	_ = f.SetColWidth(sheetName, "C", "D", 18)
	_ = f.SetColWidth(sheetName, "E", "F", 18)
	_ = f.SetColWidth(sheetName, "G", "I", 12)

	return f, nil
}

// WriteLotReport streams the lot's workbook to w.
func (e *Exporter) WriteLotReport(ctx context.Context, lotID int64, w io.Writer) error {
	f, err := e.LotReport(ctx, lotID)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// SaveLotReport writes the lot's workbook under the export directory and returns its path.
func (e *Exporter) SaveLotReport(ctx context.Context, lotID int64) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := e.LotReport(ctx, lotID)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("lot_%d_%s.xlsx", lotID, e.now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("lot report created")
	return filePath, nil
}

// FileName is the download name of a lot report.
func FileName(lotID int64, at time.Time) string {
	return fmt.Sprintf("lot_%d_%s.xlsx", lotID, at.Format("2006-01-02"))
}
