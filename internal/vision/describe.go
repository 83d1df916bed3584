package vision

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

type imageDescriber interface {
	Describe(ctx context.Context, image []byte, detailLevel string) (Description, error)
}

type pdfRenderer interface {
	RenderPDF(ctx context.Context, pdfPath, outDir string) ([]RenderedPage, error)
}

// Describer produces per-image descriptions for a document. Duplicate
// page images are captioned once: identical content hashes are skipped.
type Describer struct {
	client   imageDescriber
	renderer pdfRenderer
	minPx    int
	maxPx    int
	log      logging.Logger
}

func NewDescriber(client imageDescriber, renderer pdfRenderer, cfg config.VisionConfig, log logging.Logger) *Describer {
	return &Describer{
		client:   client,
		renderer: renderer,
		minPx:    cfg.MinImagePx,
		maxPx:    cfg.MaxImagePx,
		log:      log,
	}
}

// DescribePDF rasterizes every page into workDir and captions each one.
// A failed caption skips that page; if every attempted caption failed,
// the whole call fails so a dead model endpoint does not pass off as an
// imageless document.
func (d *Describer) DescribePDF(ctx context.Context, pdfPath, workDir string, params core.VisionParams) ([]core.ImageDescription, error) {
	pagesDir := filepath.Join(workDir, "pages")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pages dir: %w", err)
	}

	pages, err := d.renderer.RenderPDF(ctx, pdfPath, pagesDir)
	if err != nil {
		return nil, err
	}

	seen := make(map[[md5.Size]byte]bool)
	descriptions := make([]core.ImageDescription, 0, len(pages))
	var attempts int
	var lastErr error

	for _, page := range pages {
		data, skip, err := prepareImage(page.Path, d.minPx, d.maxPx)
		if err != nil {
			d.log.Warn("could not load page image", "page", page.Page, "error", err)
			continue
		}
		if skip {
			d.log.Debug("page image below minimum size, skipped", "page", page.Page)
			continue
		}

		hash := md5.Sum(data)
		if seen[hash] {
			d.log.Debug("duplicate page image skipped", "page", page.Page)
			continue
		}
		seen[hash] = true

		attempts++
		desc, err := d.client.Describe(ctx, data, params.DetailLevel)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			d.log.Warn("describe failed for page", "page", page.Page, "error", err)
			continue
		}

		descriptions = append(descriptions, core.ImageDescription{
			Summary: desc.Summary,
			Detail:  desc.Detail,
			Page:    page.Page,
			Index:   1,
		})
	}

	if len(descriptions) == 0 && attempts > 0 {
		return nil, fmt.Errorf("no page could be described: %w", lastErr)
	}

	d.log.Info("pdf described", "pdf", filepath.Base(pdfPath), "pages", len(pages), "described", len(descriptions))
	return descriptions, nil
}

// DescribeImage captions a single standalone image as page 1, index 1.
func (d *Describer) DescribeImage(ctx context.Context, imagePath string, params core.VisionParams) ([]core.ImageDescription, error) {
	data, skip, err := prepareImage(imagePath, d.minPx, d.maxPx)
	if err != nil {
		return nil, err
	}
	if skip {
		return nil, fmt.Errorf("image %s is below the %dpx minimum", filepath.Base(imagePath), d.minPx)
	}

	desc, err := d.client.Describe(ctx, data, params.DetailLevel)
	if err != nil {
		return nil, err
	}

	return []core.ImageDescription{{
		Summary: desc.Summary,
		Detail:  desc.Detail,
		Page:    1,
		Index:   1,
	}}, nil
}
