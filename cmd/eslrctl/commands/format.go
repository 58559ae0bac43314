package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatNeighbors renders a slice of neighbor records in the requested format.
func formatNeighbors(neighbors []neighborView, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(neighbors)
	case formatTable:
		return formatNeighborsTable(neighbors)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatRoutes renders a slice of route records in the requested format.
func formatRoutes(routes []routeView, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(routes)
	case formatTable:
		return formatRoutesTable(routes)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func formatNeighborsTable(neighbors []neighborView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tINTERFACE\tLOCAL ADDR\tSTATE")

	for _, n := range neighbors {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", n.NeighborID, n.Address, n.IfIndex, n.LocalAddr, n.State)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}

func formatRoutesTable(routes []routeView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PREFIX\tNEXT HOP\tINTERFACE\tMETRIC\tSEQ\tTYPE\tVALIDITY")

	for _, r := range routes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.Prefix, r.NextHop, r.IfIndex, r.Metric, r.Seq, r.RouteType, r.Validity)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}
