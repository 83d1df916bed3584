package vision

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/execx"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// RenderedPage is one rasterized PDF page. Page numbers are 1-based.
type RenderedPage struct {
	Path string
	Page int
}

// Renderer rasterizes PDF pages to PNG with pdftoppm.
type Renderer struct {
	pdftoppmPath string
	dpi          int
	runner       execx.Runner
	log          logging.Logger
}

func NewRenderer(cfg config.VisionConfig, runner execx.Runner, log logging.Logger) *Renderer {
	dpi := cfg.RenderDPI
	if dpi <= 0 {
		dpi = 150
	}
	return &Renderer{
		pdftoppmPath: cfg.PdftoppmPath,
		dpi:          dpi,
		runner:       runner,
		log:          log,
	}
}

// RenderPDF writes page-N.png files into outDir and returns them in
// page order. pdftoppm zero-pads page numbers, so the suffix is parsed
// rather than sorted lexically.
func (r *Renderer) RenderPDF(ctx context.Context, pdfPath, outDir string) ([]RenderedPage, error) {
	prefix := filepath.Join(outDir, "page")

	_, stderr, err := r.runner.Run(ctx, execx.Command{
		Name: r.pdftoppmPath,
		Args: []string{"-r", strconv.Itoa(r.dpi), "-png", pdfPath, prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("list rendered pages: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages for %s", filepath.Base(pdfPath))
	}

	pages := make([]RenderedPage, 0, len(matches))
	for _, m := range matches {
		num, ok := pageNumber(m)
		if !ok {
			r.log.Warn("unrecognized rendered page name", "path", m)
			continue
		}
		pages = append(pages, RenderedPage{Path: m, Page: num})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })

	r.log.Debug("rendered pdf pages", "pdf", filepath.Base(pdfPath), "pages", len(pages), "dpi", r.dpi)
	return pages, nil
}

func pageNumber(path string) (int, bool) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	_, numPart, ok := strings.Cut(base, "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(numPart)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
