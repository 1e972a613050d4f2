// Package reader implements the extension filter, size cap, and
// per-extension comment-stripping pass applied to every file before
// chunking (component C2).
package reader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	apperrors "local-search-mcp/internal/errors"
)

// DefaultAdHocSizeCap is the maximum size, in bytes, that Read applies when
// the caller passes no positive size cap.
const DefaultAdHocSizeCap = 10 * 1024 * 1024

// DefaultRepoSizeCap is the default maximum size, in bytes, for a single
// file inside a flattened repository output.
const DefaultRepoSizeCap = 1 * 1024 * 1024 * 1024

// supportedExtensions is the closed set of extensions the reader accepts.
var supportedExtensions = map[string]bool{
	".txt": true, ".md": true, ".rst": true, ".json": true,
	".yaml": true, ".yml": true, ".js": true, ".ts": true,
	".py": true, ".java": true, ".c": true, ".cpp": true,
	".h": true, ".css": true, ".scss": true, ".html": true,
	".xml": true, ".csv": true,
}

// Result is a post-processed file ready for chunking.
type Result struct {
	Path         string
	Content      string
	Size         int
	LastModified int64
}

// IsSupported reports whether path's extension is in the closed set.
func IsSupported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Read loads path, enforcing the extension allow-list and sizeCap, decodes
// it as UTF-8 (replacing invalid bytes), and strips comments appropriate
// to its extension.
func Read(path string, sizeCap int) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return nil, apperrors.FileProcessing("unsupported file extension: "+ext, nil).WithRetryable(false)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.FileProcessing("stat "+path, err)
	}
	if sizeCap <= 0 {
		sizeCap = DefaultAdHocSizeCap
	}
	if info.Size() > int64(sizeCap) {
		return nil, apperrors.FileProcessing("file exceeds size cap", nil).WithRetryable(false)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.FileProcessing("reading "+path, err)
	}

	text := toValidUTF8(raw)
	text = stripComments(ext, text)

	return &Result{
		Path:         path,
		Content:      text,
		Size:         int(info.Size()),
		LastModified: info.ModTime().Unix(),
	}, nil
}

// toValidUTF8 replaces invalid byte sequences with the Unicode replacement
// character, matching the spec's "reads as UTF-8; invalid bytes are
// replaced" requirement.
func toValidUTF8(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}

var (
	cLineComment   = regexp.MustCompile(`//[^\n]*`)
	cBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	hashComment    = regexp.MustCompile(`#[^\n]*`)
	htmlComment    = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// stripComments removes language-appropriate comments per extension. JSON
// is canonicalized by parse+reserialize instead; on parse failure the raw
// text is kept unchanged.
func stripComments(ext, text string) string {
	switch ext {
	case ".js", ".ts", ".java", ".c", ".cpp", ".h":
		text = cBlockComment.ReplaceAllString(text, "")
		text = cLineComment.ReplaceAllString(text, "")
		return text
	case ".css", ".scss":
		return cBlockComment.ReplaceAllString(text, "")
	case ".py":
		return hashComment.ReplaceAllString(text, "")
	case ".html", ".xml":
		return htmlComment.ReplaceAllString(text, "")
	case ".json":
		return canonicalizeJSON(text)
	default:
		return text
	}
}

// canonicalizeJSON reparses and re-serializes JSON with stable key
// ordering from encoding/json; if the input does not parse, it is
// returned unchanged.
func canonicalizeJSON(text string) string {
	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return text
	}
	return string(out)
}
