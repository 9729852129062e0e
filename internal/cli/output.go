package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/attrmap/backend"
	"github.com/jacentio/attrmap/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // Item not found
	ExitCommandError = 2 // Bad arguments, config or backend errors
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// GetExitCode extracts the exit code from an error. Errors that are not an ExitError map to
// ExitCommandError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// itemOutput is the yaml shape of one item.
type itemOutput struct {
	Item       string              `yaml:"item"`
	Attributes map[string][]string `yaml:"attributes"`
}

// dryRunOutput is the yaml shape of a captured write.
type dryRunOutput struct {
	Session string                `yaml:"session"`
	Request *backend.WriteRequest `yaml:"request"`
}

// printer writes command results in the configured format.
type printer struct {
	format string
	w      io.Writer
}

func newItemOutput(v *store.Values) itemOutput {
	out := itemOutput{Item: fmt.Sprint(v.ID()), Attributes: make(map[string][]string)}
	for _, field := range v.Fields() {
		value, _ := v.Get(field)
		out.Attributes[field] = stringValues(value)
	}
	return out
}

// stringValues flattens an ad hoc field into sorted strings.
func stringValues(value any) []string {
	var out []string
	switch v := value.(type) {
	case nil:
	case []any:
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
	default:
		out = append(out, fmt.Sprint(v))
	}
	slices.Sort(out)
	return out
}

func (p *printer) items(items ...*store.Values) error {
	outs := make([]itemOutput, len(items))
	for i, v := range items {
		outs[i] = newItemOutput(v)
	}
	if p.format == "yaml" {
		return p.yaml(outs)
	}
	for _, o := range outs {
		fmt.Fprintln(p.w, o.Item)
		names := make([]string, 0, len(o.Attributes))
		for name := range o.Attributes {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			for _, value := range o.Attributes[name] {
				fmt.Fprintf(p.w, "  %s = %s\n", name, value)
			}
		}
	}
	return nil
}

func (p *printer) lines(lines ...string) error {
	if p.format == "yaml" {
		return p.yaml(lines)
	}
	for _, l := range lines {
		fmt.Fprintln(p.w, l)
	}
	return nil
}

func (p *printer) scalar(v any) error {
	if p.format == "yaml" {
		return p.yaml(v)
	}
	_, err := fmt.Fprintln(p.w, v)
	return err
}

func (p *printer) request(session string, req *backend.WriteRequest) error {
	if p.format == "yaml" {
		return p.yaml(dryRunOutput{Session: session, Request: req})
	}
	fmt.Fprintf(p.w, "[dry-run %s] %s %s\n", session, req.Op, req.Container)
	for _, item := range req.Items {
		fmt.Fprintf(p.w, "  %s\n", item.Name)
		for _, a := range item.Attributes {
			switch {
			case a.Replace:
				fmt.Fprintf(p.w, "    %s := %s\n", a.Name, a.Value)
			case a.Value == "":
				fmt.Fprintf(p.w, "    %s (remove)\n", a.Name)
			default:
				fmt.Fprintf(p.w, "    %s += %s\n", a.Name, a.Value)
			}
		}
	}
	return nil
}

func (p *printer) yaml(v any) error {
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
