// Package export renders one job record as an XLSX workbook: a summary sheet,
// a form-fields sheet, and one sheet per extracted table.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/pamdocs/docpipe/internal/blocks"
	"github.com/pamdocs/docpipe/internal/store"
)

// Service is a tiny façade over the job store that produces XLSX bytes.
type Service struct {
	store store.JobStore
	log   *zap.SugaredLogger
}

func NewService(st store.JobStore, log *zap.SugaredLogger) *Service {
	return &Service{store: st, log: log}
}

// ExportJobXLSX returns an XLSX workbook for the record behind jobID.
func (s *Service) ExportJobXLSX(ctx context.Context, jobID string) ([]byte, error) {
	start := time.Now()

	rec, err := s.store.GetByExternalJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()

	const summarySheet = "Document"
	// excelize starts with "Sheet1"; rename it instead of leaving it around.
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}

	write := func(sheet string, col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	// Summary sheet: one label/value pair per row.
	summaryRows := [][2]any{
		{"File", rec.OriginalFilename},
		{"Job ID", rec.ExternalJobID},
		{"Step", rec.CurrentStep},
		{"Category", rec.Category},
		{"Classification", rec.Classification},
		{"Summary", rec.Summary},
		{"Confidence", rec.Confidence},
		{"Pages", rec.PagesCount},
		{"Created", rec.SortKey},
	}
	for i, pair := range summaryRows {
		write(summarySheet, 1, i+1, pair[0])
		write(summarySheet, 2, i+1, pair[1])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 16)
	_ = f.SetColWidth(summarySheet, "B", "B", 80)

	// Form fields sheet, keys sorted for a stable workbook.
	form, err := rec.DecodeForm()
	if err != nil {
		return nil, fmt.Errorf("decode form: %w", err)
	}
	const fieldsSheet = "Fields"
	if _, err := f.NewSheet(fieldsSheet); err != nil {
		return nil, err
	}
	write(fieldsSheet, 1, 1, "Field")
	write(fieldsSheet, 2, 1, "Value")
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		write(fieldsSheet, 1, i+2, k)
		write(fieldsSheet, 2, i+2, form[k])
	}
	_ = f.SetColWidth(fieldsSheet, "A", "A", 28)
	_ = f.SetColWidth(fieldsSheet, "B", "B", 60)

	// One sheet per table.
	var tables []blocks.Table
	if len(rec.TableData) > 0 {
		if err := json.Unmarshal(rec.TableData, &tables); err != nil {
			return nil, fmt.Errorf("decode tables: %w", err)
		}
	}
	for ti, table := range tables {
		sheet := fmt.Sprintf("Table %d", ti+1)
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
		for ri, row := range table {
			for ci, cellText := range row {
				write(sheet, ci+1, ri+1, cellText)
			}
		}
	}

	idx, _ := f.GetSheetIndex(summarySheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.log.Infow("export.xlsx.ok",
		"job_id", jobID,
		"fields", len(form),
		"tables", len(tables),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
