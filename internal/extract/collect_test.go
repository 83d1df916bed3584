package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestCollectCoreFiles(t *testing.T) {
	dir := t.TempDir()

	// Typical MinerU output tree for an input named demo.pdf.
	writeFile(t, filepath.Join(dir, "demo", "auto", "demo.md"))
	writeFile(t, filepath.Join(dir, "demo", "auto", "demo_model_output.txt"))
	writeFile(t, filepath.Join(dir, "demo", "auto", "demo_middle.json"))
	writeFile(t, filepath.Join(dir, "demo", "auto", "demo_content_list.json"))
	writeFile(t, filepath.Join(dir, "demo", "auto", "images", "fig1.png"))
	writeFile(t, filepath.Join(dir, "demo", "auto", "layout", "page1.json"))
	writeFile(t, filepath.Join(dir, "demo", "intermediate", "scratch.md"))
	writeFile(t, filepath.Join(dir, "demo", "auto", "demo_origin.pdf"))

	files, err := CollectCoreFiles(dir)
	require.NoError(t, err)

	require.Len(t, files, 4)
	require.Equal(t, filepath.Join(dir, "demo", "auto", "demo.md"), files["result.md"])
	require.Contains(t, files, "model_output.txt")
	require.Contains(t, files, "middle.json")
	require.Contains(t, files, "content_list.json")
}

func TestCollectCoreFiles_Empty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "demo", "auto", "images", "only.png"))

	files, err := CollectCoreFiles(dir)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestCanonicalName(t *testing.T) {
	cases := []struct {
		rel  string
		want string
	}{
		{"demo/auto/demo.md", "result.md"},
		{"demo/auto/demo_model_output.txt", "model_output.txt"},
		{"demo/auto/demo_middle.json", "middle.json"},
		{"demo/auto/demo_content_list.json", "content_list.json"},
		{"demo/auto/extras.json", "extras.json"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, CanonicalName(c.rel), "rel=%s", c.rel)
	}
}
