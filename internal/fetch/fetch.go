// Package fetch implements the two external-collaborator contracts the
// pipeline orchestrator drives: downloading a single file over HTTP, and
// producing a single flattened markdown document from a git repository.
// Both the HTTP client and the repository flattener are narrow, replaceable
// seams — the actual flattening tool and git transport are out of scope for
// this engine's own design, per spec.md's Non-goals.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	apperrors "local-search-mcp/internal/errors"
)

// DefaultHTTPTimeout is the connection/read timeout spec §5 mandates for
// outbound HTTP fetches absent an explicit override.
const DefaultHTTPTimeout = 30 * time.Second

// Downloader streams a single URL to disk.
type Downloader struct {
	client *http.Client
}

// NewDownloader builds a Downloader with the given timeout (0 uses the default).
func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &Downloader{client: &http.Client{Timeout: timeout}}
}

// Download streams url into destPath, honoring maxBytes (0 = unlimited) and
// overwrite. The file is written to a sibling temp file and renamed into
// place atomically so a failed or interrupted download never leaves a
// corrupt file at destPath.
func (d *Downloader) Download(ctx context.Context, rawURL, destPath string, maxBytes int64, overwrite bool) (int64, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return 0, apperrors.Input("invalid download URL: "+rawURL, err)
	}
	if !overwrite {
		if _, err := os.Stat(destPath); err == nil {
			return 0, apperrors.Input("destination already exists: "+destPath, nil)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, apperrors.Network("building download request", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, apperrors.Network("downloading "+rawURL, err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apperrors.Network("unexpected status "+strconv.Itoa(resp.StatusCode)+" from "+rawURL, nil).WithRetryable(resp.StatusCode >= 500)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, apperrors.Path("creating download directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".fetch-*")
	if err != nil {
		return 0, apperrors.Path("creating temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var reader io.Reader = resp.Body
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}

	n, err := io.Copy(tmp, reader)
	closeErr := tmp.Close()
	if err != nil {
		return 0, apperrors.Network("reading response body", err)
	}
	if closeErr != nil {
		return 0, apperrors.Path("closing temp file", closeErr)
	}
	if maxBytes > 0 && n > maxBytes {
		return 0, apperrors.Input("downloaded file exceeds max_file_size_mb limit", nil)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, apperrors.Path("moving downloaded file into place", err)
	}
	return n, nil
}

// Flattener produces a single markdown file summarizing a git repository.
// The real flattening tool is an external subprocess; Flattener's own job
// is deciding whether to point that tool at a remote URL directly or, when
// the tool reports an auth/404 error, clone the repository locally first
// and point it at the clone.
type Flattener struct {
	toolName   string
	runCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
	cloneRepo  func(ctx context.Context, url, branch, dir string) error
}

// NewFlattener builds a Flattener that shells out to toolName (a repomix-
// style CLI expected on PATH).
func NewFlattener(toolName string) *Flattener {
	if toolName == "" {
		toolName = "repomix"
	}
	return &Flattener{
		toolName:   toolName,
		runCommand: exec.CommandContext,
		cloneRepo:  cloneWithGoGit,
	}
}

// Flatten runs the flattening tool against repoURL (optionally pinned to
// branch), writing its markdown output to outputPath. On an auth/404-shaped
// failure it clones the repository into a temp directory under tempDir,
// reruns the tool against the local clone, and removes the temp directory
// afterward regardless of outcome.
func (f *Flattener) Flatten(ctx context.Context, repoURL, branch, outputPath, tempDir string) error {
	err := f.runTool(ctx, repoURL, branch, outputPath)
	if err == nil {
		return nil
	}
	if !looksLikeAuthOrNotFound(err) {
		return err
	}

	cloneDir, mkErr := os.MkdirTemp(tempDir, "repo-clone-*")
	if mkErr != nil {
		return apperrors.Path("creating clone temp dir", mkErr)
	}
	defer os.RemoveAll(cloneDir)

	if cloneErr := f.cloneRepo(ctx, repoURL, branch, cloneDir); cloneErr != nil {
		return apperrors.Network("cloning repository after flattener auth/404 error", cloneErr)
	}

	return f.runTool(ctx, cloneDir, branch, outputPath)
}

func (f *Flattener) runTool(ctx context.Context, target, branch, outputPath string) error {
	args := []string{target, "--output", outputPath}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	cmd := f.runCommand(ctx, f.toolName, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return apperrors.Network(strings.TrimSpace(string(out)), err)
	}
	return nil
}

func cloneWithGoGit(ctx context.Context, repoURL, branch, dir string) error {
	opts := &git.CloneOptions{
		URL:   repoURL,
		Depth: 1,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}
	_, err := git.PlainCloneContext(ctx, dir, false, opts)
	return err
}

func looksLikeAuthOrNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "403", "404", "authentication", "not found", "unauthorized"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RepoDirName derives a filesystem-safe directory name for repoURL,
// stable across calls so re-fetching the same repo reuses the same path.
func RepoDirName(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	base := filepath.Base(strings.TrimSuffix(repoURL, "/"))
	base = strings.TrimSuffix(base, ".git")
	if base == "" || base == "." || base == "/" {
		base = "repo"
	}
	return base + "-" + hex.EncodeToString(sum[:])[:8]
}
