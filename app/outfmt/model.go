package outfmt

import (
	"fmt"

	"github.com/taxlot/taxlot/portfolio"
)

type OutputType int

const (
	Events OutputType = iota
	AggregateGains
	OpenLots
)

// fileStem names the file an output type is written to.
func fileStem(outType OutputType, name string) (string, error) {
	switch outType {
	case Events:
		return name, nil
	case AggregateGains:
		return "aggregate-gains", nil
	case OpenLots:
		return "open-lots", nil
	}
	return "", fmt.Errorf("OutputType %v not implemented", outType)
}

type ReportWriter interface {
	PrintRenderTable(outType OutputType, name string, tableModel *portfolio.RenderTable) error
}

// EventExporter is implemented by writers with a machine-readable event
// format, written in addition to the rendered tables.
type EventExporter interface {
	ExportEvents(name string, events []portfolio.TaxEvent) error
}
