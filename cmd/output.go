package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// printer renders a result as json, yaml or a table drawn by the caller.
type printer struct {
	out    io.Writer
	format string
}

func (p printer) render(v interface{}, table func(w *tabwriter.Writer)) error {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatTable, "":
		w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
		table(w)
		return w.Flush()
	default:
		return fmt.Errorf("unsupported output format %q (must be table, json or yaml)", p.format)
	}
}

// message prints a one-line confirmation in table mode and v otherwise.
func (p printer) message(v interface{}, format string, args ...interface{}) error {
	return p.render(v, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, format+"\n", args...)
	})
}
