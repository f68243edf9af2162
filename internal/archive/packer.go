// Package archive packages a local folder into a single zip blob for folder
// uploads.
package archive

import (
	"context"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/workspace/internal/logging"
	"github.com/fruitsalade/fruitsalade/workspace/internal/workspace"
)

// Packer zips a folder into a temporary file.
type Packer struct {
	// TempDir holds the archives while they are uploaded (os.TempDir when empty).
	TempDir string
	// Level is the deflate level; 0 means flate.DefaultCompression.
	Level int
	// Follow makes the walk follow symlinks.
	Follow bool
}

type entry struct {
	rel  string
	path string
	info iofs.FileInfo
}

// Pack archives dir. The blob is named after the folder and its body
// removes the temporary archive when closed.
func (p *Packer) Pack(ctx context.Context, dir string) (*workspace.Blob, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a folder", dir)
	}

	entries, err := p.collect(ctx, root)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(p.TempDir, "workspace-folder-*.zip")
	if err != nil {
		return nil, err
	}
	if err := p.write(ctx, tmp, entries); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	size, err := tmp.Seek(0, io.SeekEnd)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}

	logging.Debug("folder packed",
		zap.String("folder", root),
		zap.Int("entries", len(entries)),
		zap.Int64("size", size),
	)
	return &workspace.Blob{
		Name: filepath.Base(root),
		Size: size,
		Body: &tempFile{File: tmp},
	}, nil
}

// collect walks root concurrently and returns its entries sorted by path.
func (p *Packer) collect(ctx context.Context, root string) ([]entry, error) {
	var (
		mu      sync.Mutex
		entries []entry
	)
	conf := &fastwalk.Config{Follow: p.Follow}
	err := fastwalk.Walk(conf, root, func(path string, d iofs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := fastwalk.StatDirEntry(path, d)
		if err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}
		mu.Lock()
		entries = append(entries, entry{rel: filepath.ToSlash(rel), path: path, info: info})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, nil
}

func (p *Packer) write(ctx context.Context, w io.Writer, entries []entry) error {
	level := p.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return err
		}
		hdr, err := zip.FileInfoHeader(e.info)
		if err != nil {
			zw.Close()
			return err
		}
		hdr.Name = e.rel
		if e.info.IsDir() {
			hdr.Name += "/"
			hdr.Method = zip.Store
			if _, err := zw.CreateHeader(hdr); err != nil {
				zw.Close()
				return err
			}
			continue
		}
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			zw.Close()
			return err
		}
		if err := copyFile(fw, e.path); err != nil {
			zw.Close()
			return fmt.Errorf("add %s: %w", e.rel, err)
		}
	}
	return zw.Close()
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// tempFile deletes itself on Close.
type tempFile struct {
	*os.File
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	if rmErr := os.Remove(t.File.Name()); err == nil {
		err = rmErr
	}
	return err
}
