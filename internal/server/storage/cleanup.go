package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// RemoveStale deletes spooled archives last modified more than maxAge
// before now. They are left behind when a process dies mid-share.
func (s *SpoolStore) RemoveStale(maxAge time.Duration, now time.Time) (int, error) {
	log := slog.With("component", "spool")

	infos, err := afero.ReadDir(s.fs, s.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to list spool directory: %w", err)
	}

	cutoff := now.Add(-maxAge)
	var cleaned, failed int
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ArchiveExt) {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		id := strings.TrimSuffix(info.Name(), ArchiveExt)
		if err := s.Delete(id); err != nil {
			log.Error("failed to delete stale archive", "archive_id", id, "error", err)
			failed++
			continue
		}

		cleaned++
		log.Info("cleaned up stale archive",
			"archive_id", id,
			"modified_at", info.ModTime(),
		)
	}

	if cleaned > 0 || failed > 0 {
		log.Info("spool sweep complete",
			"cleaned", cleaned,
			"failed", failed,
		)
	}

	return cleaned, nil
}
