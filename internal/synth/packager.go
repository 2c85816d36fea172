package synth

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Packager bundles output files into a ZIP archive
type Packager struct{}

// Zip writes zipPath with one deflated entry per file, named by its base name
func (Packager) Zip(zipPath string, files ...string) (err error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", zipPath, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(out)
	for _, path := range files {
		if err := addEntry(zw, path); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish %s: %w", zipPath, err)
	}
	return nil
}

func addEntry(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer in.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     filepath.Base(path),
		Modified: time.Now(),
		Method:   zip.Deflate,
	})
	if err != nil {
		return fmt.Errorf("failed to create entry for %s: %w", path, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to write entry for %s: %w", path, err)
	}
	return nil
}
