package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/jamesainslie/dropguard/pkg/dropguard/output"
)

// resolveFormat picks the formatter name. An explicit flag wins; otherwise
// terminals get fallback and pipes get plain.
func resolveFormat(flag, fallback string, tty bool) string {
	if f := strings.ToLower(strings.TrimSpace(flag)); f != "" {
		return f
	}
	if tty {
		return fallback
	}
	return "plain"
}

// render formats r with the named formatter and writes it to w. A non-empty
// tmpl selects the template formatter regardless of name.
func render(w io.Writer, name, tmpl string, r *output.Result) error {
	var f output.Formatter
	if tmpl != "" {
		f = output.NewTemplateFormatter(tmpl)
	} else {
		var err error
		if f, err = output.Get(name); err != nil {
			return fmt.Errorf("%w (available: %s)", err, strings.Join(output.Available(), ", "))
		}
	}

	var buf bytes.Buffer
	if err := f.Format(&buf, r); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
