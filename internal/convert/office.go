// Package convert turns office documents into PDFs with a headless
// LibreOffice run, the step in front of extraction and description for
// non-PDF, non-image uploads.
package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/execx"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

type OfficeConverter struct {
	sofficePath string
	timeout     time.Duration
	runner      execx.Runner
	log         logging.Logger
}

func NewOfficeConverter(cfg config.ConvertConfig, runner execx.Runner, log logging.Logger) *OfficeConverter {
	path := cfg.SofficePath
	if path == "" {
		path = FindSoffice()
	}
	return &OfficeConverter{
		sofficePath: path,
		timeout:     cfg.Timeout,
		runner:      runner,
		log:         log,
	}
}

// FindSoffice locates the LibreOffice binary: PATH first, then the
// usual install locations.
func FindSoffice() string {
	if p, err := exec.LookPath("soffice"); err == nil {
		return p
	}
	candidates := []string{
		"/usr/bin/soffice",
		"/usr/local/bin/soffice",
		"/opt/libreoffice/program/soffice",
		"/Applications/LibreOffice.app/Contents/MacOS/soffice",
		`C:\Program Files\LibreOffice\program\soffice.exe`,
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Available reports whether a LibreOffice binary was found; the health
// endpoint surfaces this.
func (c *OfficeConverter) Available() bool {
	return c.sofficePath != ""
}

// ToPDF converts inputPath into outDir and returns the PDF path.
// LibreOffice names the output after the input basename.
func (c *OfficeConverter) ToPDF(ctx context.Context, inputPath, outDir string) (string, error) {
	if c.sofficePath == "" {
		return "", fmt.Errorf("libreoffice not installed")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	_, stderr, err := c.runner.Run(ctx, execx.Command{
		Name: c.sofficePath,
		Args: []string{"--headless", "--convert-to", "pdf", "--outdir", outDir, inputPath},
	})
	if err != nil {
		return "", fmt.Errorf("libreoffice conversion: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	base := filepath.Base(inputPath)
	pdfPath := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("libreoffice produced no pdf for %s: %s", base, strings.TrimSpace(string(stderr)))
	}

	c.log.Info("converted office document", "input", base, "pdf", filepath.Base(pdfPath))
	return pdfPath, nil
}
