package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DatasetFile is one dataset document found on disk.
type DatasetFile struct {
	// Path is the file path as found by the walk.
	Path string

	// RelPath is the path relative to the walked root.
	RelPath string

	// Content is the raw file content.
	Content []byte

	// SHA256 is the hash of the file content.
	SHA256 string
}

// Dataset file extensions. JSON is read by the YAML decoder.
var datasetExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	".*.swp",
	"*~",
	".#*",
}

// WalkDatasets returns the dataset files under root, sorted by relative
// path, skipping anything matched by root's .gitignore. A root that is a
// file is returned as the only entry.
func WalkDatasets(root string) ([]DatasetFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("reading dataset path: %w", err)
	}
	if !info.IsDir() {
		f, err := readDatasetFile(root, filepath.Base(root))
		if err != nil {
			return nil, err
		}
		return []DatasetFile{f}, nil
	}

	matcher, err := loadMatcher(root)
	if err != nil {
		return nil, err
	}

	var files []DatasetFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && shouldSkipDir(d.Name(), path, root, matcher) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isDatasetFile(d.Name()) {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if matcher.Match(splitPath(relPath), false) {
			return nil
		}

		f, err := readDatasetFile(path, relPath)
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func readDatasetFile(path, relPath string) (DatasetFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return DatasetFile{}, fmt.Errorf("reading %s: %w", relPath, err)
	}
	hash := sha256.Sum256(content)
	return DatasetFile{
		Path:    path,
		RelPath: relPath,
		Content: content,
		SHA256:  hex.EncodeToString(hash[:]),
	}, nil
}

// loadMatcher combines the default ignore patterns with root's .gitignore.
func loadMatcher(root string) (gitignore.Matcher, error) {
	patterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns))
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	loaded, err := loadGitignore(root)
	if err != nil {
		return nil, err
	}
	return gitignore.NewMatcher(append(patterns, loaded...)), nil
}

// loadGitignore loads .gitignore patterns from root.
func loadGitignore(root string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading .gitignore: %w", err)
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

// isDatasetFile checks if a file has a dataset extension.
func isDatasetFile(filename string) bool {
	return datasetExtensions[strings.ToLower(filepath.Ext(filename))]
}

// shouldSkipDir checks if a directory should be skipped.
func shouldSkipDir(name, path, root string, matcher gitignore.Matcher) bool {
	if name == ".git" {
		return true
	}
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return matcher.Match(splitPath(relPath), true)
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(path, string(filepath.Separator))
}
