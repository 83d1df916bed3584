package vision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/execx"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

type scriptedRunner struct {
	lastCmd execx.Command
	onRun   func(cmd execx.Command) error
}

func (s *scriptedRunner) Run(_ context.Context, cmd execx.Command) ([]byte, []byte, error) {
	s.lastCmd = cmd
	if s.onRun != nil {
		if err := s.onRun(cmd); err != nil {
			return nil, []byte("render failed"), err
		}
	}
	return nil, nil, nil
}

func TestRenderer_RenderPDF(t *testing.T) {
	outDir := t.TempDir()

	runner := &scriptedRunner{onRun: func(cmd execx.Command) error {
		// pdftoppm writes <prefix>-N.png; emit pages out of lexical order.
		prefix := cmd.Args[len(cmd.Args)-1]
		for _, n := range []int{10, 2, 1} {
			if err := os.WriteFile(prefix+"-"+strconv.Itoa(n)+".png", []byte("png"), 0o644); err != nil {
				return err
			}
		}
		return nil
	}}

	r := NewRenderer(config.VisionConfig{PdftoppmPath: "pdftoppm", RenderDPI: 120}, runner, logging.New("error", "text"))

	pages, err := r.RenderPDF(context.Background(), "/tmp/doc.pdf", outDir)
	require.NoError(t, err)

	require.Equal(t, "pdftoppm", runner.lastCmd.Name)
	require.Equal(t, []string{"-r", "120", "-png", "/tmp/doc.pdf", filepath.Join(outDir, "page")}, runner.lastCmd.Args)

	require.Len(t, pages, 3)
	require.Equal(t, []int{1, 2, 10}, []int{pages[0].Page, pages[1].Page, pages[2].Page})
}

func TestRenderer_RenderPDF_CommandFails(t *testing.T) {
	runner := &scriptedRunner{onRun: func(execx.Command) error {
		return errors.New("exit status 1")
	}}
	r := NewRenderer(config.VisionConfig{PdftoppmPath: "pdftoppm"}, runner, logging.New("error", "text"))

	_, err := r.RenderPDF(context.Background(), "/tmp/doc.pdf", t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "render failed")
}

func TestRenderer_RenderPDF_NoPages(t *testing.T) {
	r := NewRenderer(config.VisionConfig{PdftoppmPath: "pdftoppm"}, &scriptedRunner{}, logging.New("error", "text"))

	_, err := r.RenderPDF(context.Background(), "/tmp/doc.pdf", t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no pages")
}

func TestPageNumber(t *testing.T) {
	cases := []struct {
		path string
		num  int
		ok   bool
	}{
		{"/out/page-1.png", 1, true},
		{"/out/page-07.png", 7, true},
		{"/out/page-12.png", 12, true},
		{"/out/page.png", 0, false},
		{"/out/page-x.png", 0, false},
	}
	for _, c := range cases {
		n, ok := pageNumber(c.path)
		require.Equal(t, c.ok, ok, "path=%s", c.path)
		if ok {
			require.Equal(t, c.num, n, "path=%s", c.path)
		}
	}
}
