// Package paths resolves the platform-specific data and docs roots the
// engine reads and writes under, and ensures the directory layout exists.
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	apperrors "local-search-mcp/internal/errors"
)

const appName = "local-search-mcp"

// Roots holds every directory and file path the engine touches on disk.
type Roots struct {
	Data         string
	Docs         string
	Repositories string
	Fetched      string
	Watched      string
	Temp         string
	DatabaseFile string
	LogFile      string
}

// Resolve computes Roots from MCP_DATA_FOLDER / MCP_DOCS_FOLDER (when set)
// or platform defaults, then ensures every directory exists.
func Resolve() (*Roots, error) {
	data := os.Getenv("MCP_DATA_FOLDER")
	if data == "" {
		data = defaultDataDir()
	}
	docs := os.Getenv("MCP_DOCS_FOLDER")
	if docs == "" {
		docs = filepath.Join(data, "docs")
	}

	r := &Roots{
		Data:         data,
		Docs:         docs,
		Repositories: filepath.Join(docs, "repositories"),
		Fetched:      filepath.Join(docs, "fetched"),
		Watched:      filepath.Join(docs, "watched"),
		Temp:         filepath.Join(docs, "temp"),
		DatabaseFile: filepath.Join(data, "local-search-index.db"),
		LogFile:      filepath.Join(data, "local-search-mcp.log"),
	}

	for _, dir := range []string{r.Data, r.Docs, r.Repositories, r.Fetched, r.Watched, r.Temp} {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return apperrors.Path("path exists and is not a directory: "+dir, nil)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return apperrors.Path("failed to stat directory: "+dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Path("failed to create directory: "+dir, err)
	}
	return nil
}

func defaultDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName)
		}
		return filepath.Join(home, "Library", "Application Support", appName)
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName)
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName)
		}
		return filepath.Join(home, "AppData", "Local", appName)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName)
		}
		return filepath.Join(home, ".local", "share", appName)
	}
}
