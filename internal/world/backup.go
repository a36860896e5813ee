package world

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// backupWorld archives the world directory next to itself as
// <name>-backup-<timestamp>.tar.gz and returns the archive path.
func backupWorld(worldPath string) (string, error) {
	stamp := time.Now().UTC().Format("20060102-150405")
	archive := filepath.Join(filepath.Dir(worldPath),
		fmt.Sprintf("%s-backup-%s.tar.gz", filepath.Base(worldPath), stamp))

	f, err := os.Create(archive)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		return "", fmt.Errorf("initializing gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	err = filepath.Walk(worldPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(filepath.Dir(worldPath), path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		tw.Close()
		gz.Close()
		os.Remove(archive)
		return "", fmt.Errorf("archiving world: %w", err)
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("finalizing tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("finalizing gzip stream: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing archive: %w", err)
	}
	return archive, nil
}
