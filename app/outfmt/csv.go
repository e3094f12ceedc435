package outfmt

import (
	"encoding/csv"
	"fmt"
	"os"
	"path"

	"github.com/taxlot/taxlot/portfolio"
)

type CSVWriter struct {
	OutDir string
}

func NewCSVWriter(outDir string) (*CSVWriter, error) {
	if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("Creating CSV output directory: %w", err)
	}
	return &CSVWriter{OutDir: outDir}, nil
}

func (w *CSVWriter) writeRows(fn string, header []string, rows [][]string, footer []string, notes []string) error {
	fp, err := os.Create(path.Join(w.OutDir, fn))
	if err != nil {
		return fmt.Errorf("Create file %q: %w", fn, err)
	}
	defer fp.Close()

	csvWriter := csv.NewWriter(fp)

	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, row := range rows {
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	if len(footer) > 0 {
		if err := csvWriter.Write(footer); err != nil {
			return fmt.Errorf("write footer: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("write %s: %w", fn, err)
	}

	for _, note := range notes {
		fmt.Fprintln(fp, note)
	}
	return nil
}

// PrintRenderTable implements ReportWriter.
func (w *CSVWriter) PrintRenderTable(outType OutputType, name string, tableModel *portfolio.RenderTable) error {
	stem, err := fileStem(outType, name)
	if err != nil {
		return err
	}
	return w.writeRows(stem+".csv",
		tableModel.Header, tableModel.Rows, tableModel.Footer, tableModel.Notes)
}

// ExportEvents implements EventExporter, with full precision values.
func (w *CSVWriter) ExportEvents(name string, events []portfolio.TaxEvent) error {
	rows := make([][]string, 0, len(events))
	for i := range events {
		rows = append(rows, events[i].Record())
	}
	return w.writeRows(name+"-export.csv", portfolio.EventRecordHeader, rows, nil, nil)
}
