package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Core result files are the md/txt/json outputs outside MinerU's
// scratch directories. Keys are normalized to stable names so callers
// never depend on MinerU's input-derived file naming.
var (
	nonCoreDirs = map[string]bool{
		"images":       true,
		"layout":       true,
		"intermediate": true,
	}

	// Ordered: first matching fragment wins.
	canonicalNames = []struct {
		fragment string
		name     string
	}{
		{".txt", "model_output.txt"},
		{".md", "result.md"},
		{"_middle.json", "middle.json"},
		{"_content_list.json", "content_list.json"},
	}
)

// CollectCoreFiles walks an extraction output tree and returns canonical
// name to absolute path for every core file found. An empty result means
// the run produced nothing usable.
func CollectCoreFiles(outputDir string) (map[string]string, error) {
	matches, err := doublestar.Glob(os.DirFS(outputDir), "**/*.{md,txt,json}")
	if err != nil {
		return nil, fmt.Errorf("scan output dir: %w", err)
	}

	files := make(map[string]string)
	for _, rel := range matches {
		if inNonCoreDir(rel) {
			continue
		}
		abs := filepath.Join(outputDir, filepath.FromSlash(rel))
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		files[CanonicalName(rel)] = abs
	}
	return files, nil
}

func inNonCoreDir(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if nonCoreDirs[part] {
			return true
		}
	}
	return false
}

// CanonicalName maps an output-relative path to its stable key. Paths
// matching no known fragment keep their base name.
func CanonicalName(rel string) string {
	for _, c := range canonicalNames {
		if strings.Contains(rel, c.fragment) {
			return c.name
		}
	}
	return filepath.Base(rel)
}
