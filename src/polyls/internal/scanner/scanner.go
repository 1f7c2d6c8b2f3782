// Package scanner walks a workspace root to enumerate the source files a
// language binding cares about.
package scanner

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/polyls/polyls/src/polyls/entity"
	"github.com/polyls/polyls/src/polyls/internal/fs"
)

// Directories skipped regardless of binding policy.
var _skippedDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	".svn":         {},
	"node_modules": {},
}

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Scanner enumerates workspace files matching a binding's extensions.
type Scanner interface {
	Scan(root string, binding entity.Binding) ([]string, error)
}

// Params define values used to build a Scanner.
type Params struct {
	fx.In

	Logger *zap.SugaredLogger
	FS     fs.FS
}

type scanner struct {
	logger *zap.SugaredLogger
	fs     fs.FS
}

// New creates a Scanner.
func New(p Params) Scanner {
	return &scanner{logger: p.Logger, fs: p.FS}
}

// Scan walks root recursively and returns absolute paths of files whose
// extension the binding handles. Version control directories and
// directories the binding ignores are pruned.
func (s *scanner) Scan(root string, binding entity.Binding) ([]string, error) {
	exists, err := s.fs.DirExists(root)
	if err != nil {
		return nil, fmt.Errorf("checking workspace root %q: %w", root, err)
	}
	if !exists {
		return nil, fmt.Errorf("workspace root %q is not a directory", root)
	}

	wanted := make(map[string]struct{}, len(binding.Extensions()))
	for _, ext := range binding.Extensions() {
		wanted[strings.ToLower(ext)] = struct{}{}
	}

	var files []string
	if err := s.walk(root, binding, wanted, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *scanner) walk(dir string, binding entity.Binding, wanted map[string]struct{}, out *[]string) error {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading dir %q: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)

		if entry.IsDir() {
			if _, skip := _skippedDirs[name]; skip || binding.IsIgnoredDir(name) {
				s.logger.Debugw("skipping ignored directory", "path", path)
				continue
			}
			if err := s.walk(path, binding, wanted, out); err != nil {
				return err
			}
			continue
		}

		if _, ok := wanted[strings.ToLower(filepath.Ext(name))]; ok {
			*out = append(*out, path)
		}
	}
	return nil
}
