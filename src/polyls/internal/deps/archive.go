package deps

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// extractGztar unpacks a gzip-compressed tar stream into dir. Entry paths
// are confined to dir; entries escaping it are rejected.
func (r *resolver) extractGztar(src io.Reader, dir string) error {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := securePath(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := r.fs.MkdirAll(target); err != nil {
				return fmt.Errorf("creating dir %q: %w", target, err)
			}
		case tar.TypeReg:
			if err := r.writeEntry(target, tr); err != nil {
				return err
			}
		}
	}
}

// extractZip unpacks a zip stream into dir. The archive is buffered in
// memory since zip requires random access.
func (r *resolver) extractZip(src io.Reader, dir string) error {
	buf, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("buffering zip archive: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return fmt.Errorf("opening zip archive: %w", err)
	}

	for _, f := range zr.File {
		target, err := securePath(dir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := r.fs.MkdirAll(target); err != nil {
				return fmt.Errorf("creating dir %q: %w", target, err)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry %q: %w", f.Name, err)
		}
		err = r.writeEntry(target, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *resolver) writeEntry(target string, src io.Reader) error {
	if err := r.fs.MkdirAll(filepath.Dir(target)); err != nil {
		return fmt.Errorf("creating dir for %q: %w", target, err)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("reading entry for %q: %w", target, err)
	}
	if err := r.fs.WriteFile(target, data); err != nil {
		return fmt.Errorf("writing %q: %w", target, err)
	}
	return nil
}

func securePath(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction dir", name)
	}
	return target, nil
}
