package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kptv-panel/work/database"
	"kptv-panel/work/logger"
)

// WriteHtpasswd regenerates the flat basic-auth credential file from all
// active subscribers. The file is the handoff artifact for the fronting
// reverse proxy and must be rewritten whenever subscriber records change.
// The write is atomic: a temp file in the same directory is renamed over the
// target so the reverse proxy never sees a half-written file.
func WriteHtpasswd(db *database.DB, path string) error {
	subs, err := db.ListActiveSubscribers()
	if err != nil {
		return fmt.Errorf("failed to load subscribers: %w", err)
	}

	var sb strings.Builder
	for i := range subs {
		sb.WriteString(subs[i].Username)
		sb.WriteByte(':')
		sb.WriteString(subs[i].PasswordHash)
		sb.WriteByte('\n')
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create htpasswd directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".htpasswd-*")
	if err != nil {
		return fmt.Errorf("failed to create temp htpasswd: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write htpasswd: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close htpasswd: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod htpasswd: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace htpasswd: %w", err)
	}

	logger.Info("Regenerated htpasswd with %d subscribers at %s", len(subs), path)
	return nil
}
