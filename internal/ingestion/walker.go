// Package ingestion finds API descriptions on disk and feeds them to the
// pipeline, either once for a whole tree or continuously as files change.
package ingestion

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/apigraph-go/internal/parsers"
)

// FileEntry represents an API description found under a root.
type FileEntry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the path relative to the walk root.
	RelPath string

	// Dialect is detected from the document header.
	Dialect parsers.Dialect

	// SHA256 is the hash of the file content.
	SHA256 string
}

// Supported file extensions.
var supportedExtensions = map[string]bool{
	".raml": true,
	".yaml": true,
	".yml":  true,
	".json": true,
}

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	"node_modules/",
	".apigraph/",
	"vendor/",
	"dist/",
	"build/",
	".DS_Store",
}

var (
	ramlHeader = regexp.MustCompile(`^#%RAML\s+(0\.8|1\.0)(\s+(Overlay|Extension))?\s*$`)
	versionKey = regexp.MustCompile(`^[\s{,]*["']?(openapi|swagger|asyncapi)["']?\s*:\s*["']?([0-9][0-9.]*)`)
)

const headerPeekLen = 4096

// DetectDialect reads the dialect from a document header. RAML fragments and
// libraries are not root documents and yield false, as do JSON schemas and
// other YAML. Overlays and extensions count as roots.
func DetectDialect(content []byte) (parsers.Dialect, bool) {
	if len(content) > headerPeekLen {
		content = content[:headerPeekLen]
	}
	scanner := bufio.NewScanner(bytes.NewReader(content))
	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if first {
			first = false
			if strings.HasPrefix(line, "#%RAML") {
				m := ramlHeader.FindStringSubmatch(line)
				if m == nil {
					return "", false
				}
				if m[1] == "0.8" {
					return parsers.RAML08, true
				}
				return parsers.RAML10, true
			}
		}
		m := versionKey.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch {
		case m[1] == "swagger" && strings.HasPrefix(m[2], "2"):
			return parsers.OAS20, true
		case m[1] == "openapi" && strings.HasPrefix(m[2], "3"):
			return parsers.OAS30, true
		case m[1] == "asyncapi" && strings.HasPrefix(m[2], "2"):
			return parsers.Async20, true
		}
		return "", false
	}
	return "", false
}

// WalkAPIs walks root and returns every root API description it finds.
// Files matched by the default patterns or by patterns are skipped.
func WalkAPIs(root string, patterns []gitignore.Pattern) ([]FileEntry, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	matcher := newMatcher(patterns)

	var entries []FileEntry
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

		if !isSupportedFile(d.Name()) {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if matcher.Match(splitPath(relPath), false) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		dialect, ok := DetectDialect(content)
		if !ok {
			return nil
		}

		hash := sha256.Sum256(content)
		entries = append(entries, FileEntry{
			Path:    path,
			RelPath: relPath,
			Dialect: dialect,
			SHA256:  hex.EncodeToString(hash[:]),
		})
		return nil
	})

	return entries, err
}

func newMatcher(patterns []gitignore.Pattern) gitignore.Matcher {
	all := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(patterns))
	for _, p := range defaultIgnorePatterns {
		all = append(all, gitignore.ParsePattern(p, nil))
	}
	all = append(all, patterns...)
	return gitignore.NewMatcher(all)
}

// LoadGitignore loads .gitignore patterns from the root directory.
func LoadGitignore(root string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
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

func isSupportedFile(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
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
