package irkgen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ChristopherRabotin/irkgen/codegen"
	"github.com/ChristopherRabotin/irkgen/symbolic"
)

// ExportConfig configures where the generated code is written.
type ExportConfig struct {
	Dir       string
	Timestamp bool // add the creation date in the header comment
}

// Format returns the rendering format of the options.
func (o Options) Format() codegen.Format {
	return codegen.Format{RealType: o.RealType, IntType: o.IntType, Precision: o.Precision}
}

// Filename returns the name of the generated source file.
func (o Options) Filename() string { return o.Prefix + "integrator.c" }

// Render writes the generated program, after Setup, with its header comment.
func (e *IRKExport) Render(buf *bytes.Buffer, stamped bool) error {
	if e.prog == nil {
		return fmt.Errorf("%w: render before setup", ErrConfiguration)
	}
	fmt.Fprintf(buf, "/*\n * %s integrator, %d stages, %s sensitivities.\n", e.tab.Name, e.s, e.opts.Sensitivity)
	if stamped {
		fmt.Fprintf(buf, " * Creation date (UTC): %s\n", time.Now().UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(buf, " * Step %s, %d outputs.\n */\n", symbolic.FormatLiteral(e.h, e.opts.Precision), len(e.model.outputs))
	return e.prog.Render(buf, e.opts.Format())
}

// Export renders the program and writes it into conf.Dir. It returns the path of the written file.
func (e *IRKExport) Export(conf ExportConfig) (string, error) {
	var buf bytes.Buffer
	if err := e.Render(&buf, conf.Timestamp); err != nil {
		return "", err
	}
	dir := conf.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrResource, err)
	}
	filename := filepath.Join(dir, e.opts.Filename())
	if err := os.WriteFile(filename, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrResource, err)
	}
	e.logger.Log("level", "info", "subsys", "export", "file", filename, "bytes", buf.Len())
	return filename, nil
}
