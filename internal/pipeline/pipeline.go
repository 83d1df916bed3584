// Package pipeline runs a document job end to end on one device:
// preprocess, kind-specific processing, artifact upload. The same
// pipeline backs the hub's local executor and the worker node, so both
// produce identical artifacts for identical inputs.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cs-joeguo/MinerUVision/internal/extract"
	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// Object store prefixes, one per artifact family.
const (
	prefixOutput         = "output"
	prefixPDF            = "pdf_output"
	prefixDescriptions   = "image_descriptions"
	prefixCombinedOutput = "combined_output"
)

type Converter interface {
	Available() bool
	ToPDF(ctx context.Context, inputPath, outDir string) (string, error)
}

type Extractor interface {
	Run(ctx context.Context, req extract.Request) error
}

type Describer interface {
	DescribePDF(ctx context.Context, pdfPath, workDir string, params core.VisionParams) ([]core.ImageDescription, error)
	DescribeImage(ctx context.Context, imagePath string, params core.VisionParams) ([]core.ImageDescription, error)
}

type Uploader interface {
	Upload(ctx context.Context, requestID, prefix, filePath string) (string, error)
}

type Pipeline struct {
	converter Converter
	extractor Extractor
	describer Describer
	uploader  Uploader
	workRoot  string
	log       logging.Logger
}

func New(converter Converter, extractor Extractor, describer Describer, uploader Uploader, workRoot string, log logging.Logger) *Pipeline {
	return &Pipeline{
		converter: converter,
		extractor: extractor,
		describer: describer,
		uploader:  uploader,
		workRoot:  workRoot,
		log:       log,
	}
}

// Run processes one job on the given GPU ordinal and returns its
// result. Every scratch file lives under a per-job directory that is
// removed on all exit paths; only uploaded artifacts outlive the call.
func (p *Pipeline) Run(ctx context.Context, job *core.Job, gpuOrdinal int) (*core.Result, error) {
	if err := os.MkdirAll(p.workRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	workDir, err := os.MkdirTemp(p.workRoot, "job-"+job.ID.String()+"-")
	if err != nil {
		return nil, fmt.Errorf("create job workdir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			p.log.Warn("could not remove job workdir", "dir", workDir, "error", err)
		}
	}()

	res := &core.Result{}

	processPath, err := p.preprocess(ctx, job, workDir, res)
	if err != nil {
		return nil, err
	}

	switch job.Kind {
	case core.KindTextExtraction:
		if _, err := p.runExtraction(ctx, job, processPath, workDir, gpuOrdinal, res); err != nil {
			return nil, err
		}
	case core.KindImageDescription:
		if err := p.runDescription(ctx, job, processPath, workDir, res); err != nil {
			return nil, err
		}
	case core.KindCombined:
		localCore, err := p.runExtraction(ctx, job, processPath, workDir, gpuOrdinal, res)
		if err != nil {
			return nil, err
		}
		if err := p.runDescription(ctx, job, processPath, workDir, res); err != nil {
			return nil, err
		}
		if err := p.mergeResults(ctx, job, workDir, localCore, res); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}

	if res.ConvertedFromOffice {
		url, err := p.uploader.Upload(ctx, job.ID.String(), prefixPDF, processPath)
		if err != nil {
			return nil, core.StorageError(err)
		}
		res.PDFURL = url
	}

	p.log.Info("job processed",
		"job_id", job.ID,
		"kind", job.Kind,
		"gpu", gpuOrdinal,
		"core_files", len(res.CoreFiles),
		"images", res.ImageCount,
	)
	return res, nil
}

// preprocess converts office documents to PDF and rejects unsupported
// extensions. The returned path is what the kind stages consume.
func (p *Pipeline) preprocess(ctx context.Context, job *core.Job, workDir string, res *core.Result) (string, error) {
	switch core.ClassifyInput(job.Input.Name) {
	case core.InputPDF, core.InputImage:
		return job.Input.Path, nil
	case core.InputOffice:
		pdf, err := p.converter.ToPDF(ctx, job.Input.Path, workDir)
		if err != nil {
			return "", core.ConversionError(err)
		}
		res.ConvertedFromOffice = true
		return pdf, nil
	default:
		return "", core.ConversionError(fmt.Errorf("unsupported input type %q", filepath.Ext(job.Input.Name)))
	}
}

func (p *Pipeline) runExtraction(ctx context.Context, job *core.Job, inputPath, workDir string, gpuOrdinal int, res *core.Result) (map[string]string, error) {
	outDir := filepath.Join(workDir, "output")
	err := p.extractor.Run(ctx, extract.Request{
		InputPath:  inputPath,
		OutputDir:  outDir,
		Params:     job.Params.Extract,
		GPUOrdinal: gpuOrdinal,
	})
	if err != nil {
		return nil, core.ExtractionError(err)
	}

	localCore, err := extract.CollectCoreFiles(outDir)
	if err != nil {
		return nil, core.ExtractionError(err)
	}
	if len(localCore) == 0 {
		return nil, core.ExtractionError(fmt.Errorf("extraction produced no core files"))
	}

	res.CoreFiles = make(map[string]string, len(localCore))
	for name, path := range localCore {
		url, err := p.uploader.Upload(ctx, job.ID.String(), prefixOutput, path)
		if err != nil {
			return nil, core.StorageError(err)
		}
		res.CoreFiles[name] = url
	}
	return localCore, nil
}

func (p *Pipeline) runDescription(ctx context.Context, job *core.Job, inputPath, workDir string, res *core.Result) error {
	var (
		descs []core.ImageDescription
		err   error
	)
	if isPDF(inputPath) {
		descs, err = p.describer.DescribePDF(ctx, inputPath, workDir, job.Params.Vision)
	} else {
		descs, err = p.describer.DescribeImage(ctx, inputPath, job.Params.Vision)
	}
	if err != nil {
		return core.InferenceError(err)
	}

	res.Descriptions = descs
	res.ImageCount = len(descs)

	// A document without images is still a success, just with nothing
	// to upload. Plain image jobs get the markdown artifact; combined
	// jobs carry descriptions inside their merged artifacts instead.
	if len(descs) == 0 || job.Kind != core.KindImageDescription {
		return nil
	}

	descPath := filepath.Join(workDir, "image_descriptions.md")
	if err := os.WriteFile(descPath, renderDescriptionsMarkdown(descs), 0o644); err != nil {
		return fmt.Errorf("write descriptions markdown: %w", err)
	}
	url, err := p.uploader.Upload(ctx, job.ID.String(), prefixDescriptions, descPath)
	if err != nil {
		return core.StorageError(err)
	}
	res.DescriptionsURL = url
	return nil
}

// mergeResults builds the combined artifacts: a JSON document with both
// stage results and, when extraction yielded a markdown, a stitched
// markdown holding the text content followed by every image
// description.
func (p *Pipeline) mergeResults(ctx context.Context, job *core.Job, workDir string, localCore map[string]string, res *core.Result) error {
	combined := map[string]any{
		"text_extraction": map[string]any{
			"status":     "success",
			"core_files": res.CoreFiles,
		},
		"image_description": map[string]any{
			"status":       "success",
			"image_count":  res.ImageCount,
			"descriptions": res.Descriptions,
		},
	}
	data, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		return fmt.Errorf("encode combined result: %w", err)
	}

	jsonPath := filepath.Join(workDir, "combined_result.json")
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write combined result: %w", err)
	}
	jsonURL, err := p.uploader.Upload(ctx, job.ID.String(), prefixCombinedOutput, jsonPath)
	if err != nil {
		return core.StorageError(err)
	}
	res.CombinedJSONURL = jsonURL

	mdLocal, ok := localCore["result.md"]
	if !ok {
		return nil
	}
	textMD, err := os.ReadFile(mdLocal)
	if err != nil {
		return fmt.Errorf("read extraction markdown: %w", err)
	}

	mdPath := filepath.Join(workDir, "combined_result.md")
	if err := os.WriteFile(mdPath, renderCombinedMarkdown(textMD, res.Descriptions), 0o644); err != nil {
		return fmt.Errorf("write combined markdown: %w", err)
	}
	mdURL, err := p.uploader.Upload(ctx, job.ID.String(), prefixCombinedOutput, mdPath)
	if err != nil {
		return core.StorageError(err)
	}
	res.CombinedMDURL = mdURL
	return nil
}

func renderCombinedMarkdown(textMD []byte, descs []core.ImageDescription) []byte {
	var sb strings.Builder
	sb.WriteString("# Document Contents and Image Descriptions\n\n")
	sb.WriteString("## Text Content\n\n")
	sb.Write(textMD)
	sb.WriteString("\n\n## Image Descriptions\n\n")
	if len(descs) == 0 {
		sb.WriteString("No images were found or described.\n")
	} else {
		writeDescriptionSections(&sb, descs)
	}
	return []byte(sb.String())
}

func renderDescriptionsMarkdown(descs []core.ImageDescription) []byte {
	var sb strings.Builder
	writeDescriptionSections(&sb, descs)
	return []byte(sb.String())
}

func writeDescriptionSections(sb *strings.Builder, descs []core.ImageDescription) {
	for i, d := range descs {
		fmt.Fprintf(sb, "### Page %d Image %d\n", d.Page, d.Index)
		fmt.Fprintf(sb, "Summary: %s\n\n", d.Summary)
		fmt.Fprintf(sb, "Detail: %s\n", d.Detail)
		if i != len(descs)-1 {
			sb.WriteString("\n---\n\n")
		}
	}
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
