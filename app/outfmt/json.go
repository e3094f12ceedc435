package outfmt

import (
	"fmt"
	"io"
	"os"
	"path"

	jsoniter "github.com/json-iterator/go"

	"github.com/taxlot/taxlot/portfolio"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonTable struct {
	Title  string     `json:"title"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
	Footer []string   `json:"footer,omitempty"`
	Notes  []string   `json:"notes,omitempty"`
	Errors []string   `json:"errors,omitempty"`
}

// JSONWriter writes one JSON document per output, into OutDir, or to W when
// OutDir is empty.
type JSONWriter struct {
	OutDir string
	W      io.Writer
}

func NewJSONWriter(outDir string, w io.Writer) (*JSONWriter, error) {
	if outDir != "" {
		if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("Creating JSON output directory: %w", err)
		}
	}
	return &JSONWriter{OutDir: outDir, W: w}, nil
}

func (w *JSONWriter) write(fn string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", fn, err)
	}
	data = append(data, '\n')
	if w.OutDir == "" {
		_, err = w.W.Write(data)
		return err
	}
	return os.WriteFile(path.Join(w.OutDir, fn), data, 0o644)
}

// PrintRenderTable implements ReportWriter.
func (w *JSONWriter) PrintRenderTable(outType OutputType, name string, tableModel *portfolio.RenderTable) error {
	stem, err := fileStem(outType, name)
	if err != nil {
		return err
	}
	jt := jsonTable{
		Title:  stem,
		Header: tableModel.Header,
		Rows:   tableModel.Rows,
		Footer: tableModel.Footer,
		Notes:  tableModel.Notes,
	}
	for _, e := range tableModel.Errors {
		jt.Errors = append(jt.Errors, e.Error())
	}
	return w.write(stem+".json", jt)
}

// ExportEvents implements EventExporter.
func (w *JSONWriter) ExportEvents(name string, events []portfolio.TaxEvent) error {
	if events == nil {
		events = []portfolio.TaxEvent{}
	}
	return w.write(name+"-export.json", events)
}
