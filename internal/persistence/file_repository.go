package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"crypto-portfolio-bot/internal/models"
)

const tmpSuffix = ".tmp-*"

// FileRepository stores one JSON file per bot in a directory.
type FileRepository struct {
	dir string
}

// NewFileRepository ensures dir exists.
func NewFileRepository(dir string) (*FileRepository, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", dir, err)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(botID string) string {
	return filepath.Join(r.dir, botID+".json")
}

// SaveState writes the state using an atomic write pattern:
// 1. Write to a temporary file in the same directory.
// 2. Sync to ensure data is on disk.
// 3. Rename the temporary file over the destination.
// 4. Sync the directory so the rename itself is durable.
func (r *FileRepository) SaveState(state *models.PortfolioState) (err error) {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	dest := r.path(state.BotID)
	f, err := os.CreateTemp(r.dir, filepath.Base(dest)+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(b); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("sync temp state file: %w", err)
	}
	// Close before renaming (required on Windows).
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err = os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	if err = syncDir(r.dir); err != nil {
		return fmt.Errorf("sync state directory: %w", err)
	}
	return nil
}

// syncDir flushes the directory entry so the rename survives a power loss.
// Windows cannot fsync a directory handle, so it is skipped there.
func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// LoadState reads the state of botID. Temp files left behind by an interrupted
// save are removed first; the last renamed file is the committed state.
func (r *FileRepository) LoadState(botID string) (*models.PortfolioState, error) {
	dest := r.path(botID)

	stale, _ := filepath.Glob(filepath.Join(r.dir, filepath.Base(dest)+tmpSuffix))
	for _, s := range stale {
		os.Remove(s)
	}

	b, err := os.ReadFile(dest)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state models.PortfolioState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", dest, err)
	}
	return &state, nil
}

// Close is a no-op.
func (r *FileRepository) Close() error { return nil }
