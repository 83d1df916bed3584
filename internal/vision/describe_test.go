package vision

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

type fakeClient struct {
	calls int
	fail  bool
	reply Description
}

func (f *fakeClient) Describe(_ context.Context, _ []byte, _ string) (Description, error) {
	f.calls++
	if f.fail {
		return Description{}, errors.New("model unavailable")
	}
	return f.reply, nil
}

type fakeRendererFn func(ctx context.Context, pdfPath, outDir string) ([]RenderedPage, error)

func (f fakeRendererFn) RenderPDF(ctx context.Context, pdfPath, outDir string) ([]RenderedPage, error) {
	return f(ctx, pdfPath, outDir)
}

func savePNG(t *testing.T, path string, w, h int, c color.NRGBA) string {
	t.Helper()
	img := imaging.New(w, h, c)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func testVisionConfig() config.VisionConfig {
	return config.VisionConfig{MinImagePx: 28, MaxImagePx: 2048}
}

func TestDescriber_DescribePDF(t *testing.T) {
	dir := t.TempDir()
	red := color.NRGBA{R: 200, A: 255}
	blue := color.NRGBA{B: 200, A: 255}

	pages := []RenderedPage{
		{Path: savePNG(t, filepath.Join(dir, "page-1.png"), 100, 100, red), Page: 1},
		{Path: savePNG(t, filepath.Join(dir, "page-2.png"), 100, 100, blue), Page: 2},
		// Same content as page 1, must be deduplicated.
		{Path: savePNG(t, filepath.Join(dir, "page-3.png"), 100, 100, red), Page: 3},
		// Below the minimum size, must be skipped.
		{Path: savePNG(t, filepath.Join(dir, "page-4.png"), 10, 10, blue), Page: 4},
	}

	client := &fakeClient{reply: Description{Summary: "sum", Detail: "det"}}
	renderer := fakeRendererFn(func(_ context.Context, _, _ string) ([]RenderedPage, error) {
		return pages, nil
	})

	d := NewDescriber(client, renderer, testVisionConfig(), logging.New("error", "text"))

	got, err := d.DescribePDF(context.Background(), "in.pdf", t.TempDir(), core.DefaultVisionParams())
	require.NoError(t, err)
	require.Equal(t, 2, client.calls)
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].Page)
	require.Equal(t, 2, got[1].Page)
	require.Equal(t, 1, got[0].Index)
	require.Equal(t, "sum", got[0].Summary)
}

func TestDescriber_DescribePDF_RenderFails(t *testing.T) {
	renderer := fakeRendererFn(func(_ context.Context, _, _ string) ([]RenderedPage, error) {
		return nil, errors.New("pdftoppm: exit status 1")
	})
	d := NewDescriber(&fakeClient{}, renderer, testVisionConfig(), logging.New("error", "text"))

	_, err := d.DescribePDF(context.Background(), "in.pdf", t.TempDir(), core.DefaultVisionParams())
	require.Error(t, err)
	require.Contains(t, err.Error(), "pdftoppm")
}

func TestDescriber_DescribePDF_AllCaptionsFail(t *testing.T) {
	dir := t.TempDir()
	pages := []RenderedPage{
		{Path: savePNG(t, filepath.Join(dir, "page-1.png"), 100, 100, color.NRGBA{R: 1, A: 255}), Page: 1},
		{Path: savePNG(t, filepath.Join(dir, "page-2.png"), 100, 100, color.NRGBA{G: 1, A: 255}), Page: 2},
	}
	client := &fakeClient{fail: true}
	renderer := fakeRendererFn(func(_ context.Context, _, _ string) ([]RenderedPage, error) {
		return pages, nil
	})
	d := NewDescriber(client, renderer, testVisionConfig(), logging.New("error", "text"))

	_, err := d.DescribePDF(context.Background(), "in.pdf", t.TempDir(), core.DefaultVisionParams())
	require.Error(t, err)
	require.Contains(t, err.Error(), "model unavailable")
	require.Equal(t, 2, client.calls)
}

func TestDescriber_DescribeImage(t *testing.T) {
	path := savePNG(t, filepath.Join(t.TempDir(), "single.png"), 64, 64, color.NRGBA{G: 128, A: 255})

	client := &fakeClient{reply: Description{Summary: "a square", Detail: "a green square"}}
	d := NewDescriber(client, fakeRendererFn(nil), testVisionConfig(), logging.New("error", "text"))

	got, err := d.DescribeImage(context.Background(), path, core.DefaultVisionParams())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, core.ImageDescription{Summary: "a square", Detail: "a green square", Page: 1, Index: 1}, got[0])
}

func TestDescriber_DescribeImage_TooSmall(t *testing.T) {
	path := savePNG(t, filepath.Join(t.TempDir(), "tiny.png"), 8, 8, color.NRGBA{A: 255})

	d := NewDescriber(&fakeClient{}, fakeRendererFn(nil), testVisionConfig(), logging.New("error", "text"))

	_, err := d.DescribeImage(context.Background(), path, core.DefaultVisionParams())
	require.Error(t, err)
	require.Contains(t, err.Error(), "minimum")
}

func TestPrepareImage_Downscale(t *testing.T) {
	path := savePNG(t, filepath.Join(t.TempDir(), "big.png"), 400, 200, color.NRGBA{B: 50, A: 255})

	data, skip, err := prepareImage(path, 28, 100)
	require.NoError(t, err)
	require.False(t, skip)

	resized, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	b := resized.Bounds()
	require.LessOrEqual(t, b.Dx(), 100)
	require.LessOrEqual(t, b.Dy(), 100)
	// Aspect ratio preserved by Fit.
	require.Equal(t, 100, b.Dx())
	require.Equal(t, 50, b.Dy())
}
