package plan

import (
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"gopkg.in/yaml.v2"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatCSV   = "csv"
)

var Formats = []string{FormatTable, FormatJSON, FormatYAML, FormatCSV}

type csvRow struct {
	Step      string `csv:"step"`
	Service   string `csv:"service"`
	Operation string `csv:"operation"`
	Target    string `csv:"target"`
	Applied   bool   `csv:"applied"`
	Params    string `csv:"params"`
	Error     string `csv:"error"`
}

// Render writes calls to w in the requested format.
func Render(w io.Writer, calls []Call, format string) error {
	switch strings.ToLower(format) {
	case "", FormatTable:
		_, err := fmt.Fprintln(w, Table(calls))
		return err
	case FormatJSON:
		_, err := fmt.Fprintln(w, string(logging.PrettyJSON(calls)))
		return err
	case FormatYAML:
		out, err := yaml.Marshal(calls)
		if err != nil {
			return fmt.Errorf("render plan as yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	case FormatCSV:
		rows := make([]csvRow, 0, len(calls))
		for _, c := range calls {
			rows = append(rows, csvRow{
				Step:      c.Step,
				Service:   c.Service,
				Operation: c.Operation,
				Target:    c.Target,
				Applied:   c.Applied,
				Params:    paramString(c.Params, ";"),
				Error:     c.Error,
			})
		}
		return gocsv.Marshal(&rows, w)
	default:
		return fmt.Errorf("unknown plan format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

// Table renders calls as a rounded go-pretty table.
func Table(calls []Call) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"#", "Step", "Service", "Operation", "Target", "Parameters"})
	for i, c := range calls {
		op := c.Operation
		if c.Error != "" {
			op = text.FgRed.Sprint(op)
		}
		tw.AppendRow(table.Row{i + 1, c.Step, c.Service, op, c.Target, paramString(c.Params, "\n")})
	}
	if len(calls) == 0 {
		tw.AppendRow(table.Row{"-", "-", "-", "no changes", "-", "-"})
	}
	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 6, WidthMax: 80},
	})
	return tw.Render()
}

func paramString(params map[string]interface{}, sep string) string {
	parts := make([]string, 0, len(params))
	for _, k := range SortedKeys(params) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, sep)
}
