// Package converter turns a local PDF file into an HTML file. Rendering is
// delegated to a backend; the pipeline only sees Convert succeed or fail.
package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	u "pdf2html/internal/utils"
)

// ErrEmptyOutput is returned when a backend exits cleanly but leaves no
// usable output file.
var ErrEmptyOutput = errors.New("converter produced no output")

// Converter renders the PDF at inputPath into HTML at outputPath.
// On success the output file exists and is complete.
type Converter interface {
	Name() string
	Convert(ctx context.Context, inputPath, outputPath string) error
}

// New builds the configured backend wrapped in a Pool.
func New(cfg u.Config) (*Pool, error) {
	var backend Converter
	timeout := time.Duration(cfg.Converter.TimeoutSecs) * time.Second

	switch strings.ToLower(cfg.Converter.Backend) {
	case u.BackendPDF2HTMLEX:
		backend = NewPDF2HTMLEX(cfg.Converter.Binary, cfg.Converter.Args, timeout)
	case u.BackendTextLayer:
		backend = NewTextLayer()
	default:
		return nil, fmt.Errorf("unknown converter backend %q", cfg.Converter.Backend)
	}
	return NewPool(backend, cfg.Converter.PoolSize), nil
}

func checkOutput(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmptyOutput, err)
	}
	if st.Size() == 0 {
		return ErrEmptyOutput
	}
	return nil
}
