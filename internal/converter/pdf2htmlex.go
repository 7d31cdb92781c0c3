package converter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// runner abstracts process execution for tests.
type runner interface {
	Run(ctx context.Context, name string, args []string) (stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// PDF2HTMLEX converts by running the pdf2htmlEX binary.
type PDF2HTMLEX struct {
	binary  string
	args    []string
	timeout time.Duration
	run     runner
}

// NewPDF2HTMLEX returns a backend invoking binary with extra args before the
// positional arguments. A zero timeout means no limit beyond ctx.
func NewPDF2HTMLEX(binary string, args []string, timeout time.Duration) *PDF2HTMLEX {
	return &PDF2HTMLEX{
		binary:  binary,
		args:    append([]string(nil), args...),
		timeout: timeout,
		run:     execRunner{},
	}
}

func (p *PDF2HTMLEX) Name() string { return "pdf2htmlex" }

func (p *PDF2HTMLEX) commandArgs(inputPath, outputPath string) []string {
	args := append([]string(nil), p.args...)
	return append(args,
		"--dest-dir", filepath.Dir(outputPath),
		inputPath,
		filepath.Base(outputPath),
	)
}

// Convert runs pdf2htmlEX and verifies that it wrote outputPath.
func (p *PDF2HTMLEX) Convert(ctx context.Context, inputPath, outputPath string) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	stderr, err := p.run.Run(ctx, p.binary, p.commandArgs(inputPath, outputPath))
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("pdf2htmlEX %s: %w", filepath.Base(inputPath), ctx.Err())
		}
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			return fmt.Errorf("pdf2htmlEX %s: %w", filepath.Base(inputPath), err)
		}
		return fmt.Errorf("pdf2htmlEX %s: %w: %s", filepath.Base(inputPath), err, msg)
	}
	return checkOutput(outputPath)
}
