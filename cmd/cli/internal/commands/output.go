package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	jmespath "github.com/jmespath-community/go-jmespath"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Printer writes command results as a table, JSON or YAML. A JMESPath query
// filters structured output; with the table format it switches to JSON.
type Printer struct {
	Format string
	Query  string
	Out    io.Writer
}

// Print writes v. table renders the human readable form.
func (p *Printer) Print(v any, table func(w *tabwriter.Writer)) error {
	format := p.Format
	if format == "" {
		format = FormatTable
	}
	if p.Query != "" && format == FormatTable {
		format = FormatJSON
	}

	if format == FormatTable {
		if table == nil {
			format = FormatJSON
		} else {
			w := tabwriter.NewWriter(p.Out, 0, 0, 2, ' ', 0)
			table(w)
			return w.Flush()
		}
	}

	data, err := p.query(v)
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(p.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(p.Out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// Message writes a line of text in table mode only, so structured output
// stays parseable.
func (p *Printer) Message(format string, args ...any) {
	if p.Format != "" && p.Format != FormatTable {
		return
	}
	if p.Query != "" {
		return
	}
	fmt.Fprintf(p.Out, format+"\n", args...)
}

// query converts v to plain maps and slices via its JSON form and applies
// the JMESPath expression.
func (p *Printer) query(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}

	if strings.TrimSpace(p.Query) == "" {
		return data, nil
	}

	if _, err := jmespath.Compile(p.Query); err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", p.Query, err)
	}

	out, err := jmespath.Search(p.Query, data)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return out, nil
}
