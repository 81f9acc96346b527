package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dafo123/munbox"
	"github.com/dafo123/munbox/internal/appledouble"
)

// extract runs one archive through the detection pipeline and writes every
// fork it yields under opts.outputDir.
func extract(archive string, opts *options) error {
	src, err := munbox.NewFile(archive)
	if err != nil {
		return fmt.Errorf("%s: %w", archive, err)
	}
	l, err := munbox.Process(src)
	if err != nil {
		return fmt.Errorf("%s: %w", archive, err)
	}
	defer l.Close()

	var sidecar *appledouble.Writer // pending sidecar of the last data fork
	var sidecarFile *os.File
	closeSidecar := func() {
		if sidecarFile != nil {
			sidecarFile.Close()
			sidecar, sidecarFile = nil, nil
		}
	}
	defer closeSidecar()

	info, err := l.Open(munbox.First)
	for err == nil {
		if info.Fork == munbox.ForkData {
			closeSidecar()
			if keep(info.Name, opts.include) {
				if werr := writeData(l, info, opts, &sidecar, &sidecarFile); werr != nil {
					return fmt.Errorf("%s: %w", archive, werr)
				}
			}
		} else if sidecar != nil {
			n, werr := sidecar.AppendResourceFork(l)
			if werr != nil {
				return fmt.Errorf("%s: %s: %w", archive, info.Name, werr)
			}
			slog.Debug("wrote resource fork", "name", info.Name, "bytes", n)
		}
		info, err = l.Open(munbox.Next)
	}
	if err != io.EOF {
		return fmt.Errorf("%s: %w", archive, err)
	}
	return nil
}

func keep(name string, include []string) bool {
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// writeData extracts the data fork and, when asked, opens its sidecar so a
// following resource fork has somewhere to go.
func writeData(l munbox.Layer, info *munbox.FileInfo, opts *options,
	sidecar **appledouble.Writer, sidecarFile **os.File) error {

	rel, err := safeRel(info.Name)
	if err != nil {
		return err
	}
	dst := filepath.Join(opts.outputDir, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, l)
	cerr := f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", info.Name, err)
	}
	if cerr != nil {
		return cerr
	}
	if !info.ModTime.IsZero() {
		os.Chtimes(dst, info.ModTime, info.ModTime)
	}
	slog.Debug("wrote data fork", "name", info.Name, "bytes", n)

	if opts.appleDouble && info.HasMetadata {
		adPath := filepath.Join(filepath.Dir(dst), "._"+filepath.Base(dst))
		af, err := os.Create(adPath)
		if err != nil {
			return err
		}
		w := appledouble.NewWriter(af)
		fi := appledouble.FinderInfo{Type: info.Type, Creator: info.Creator, Flags: info.FinderFlags}
		if err := w.WriteHeader(fi, info.ModTime); err != nil {
			af.Close()
			return err
		}
		*sidecar, *sidecarFile = w, af
	}
	return nil
}

// safeRel rejects entry names that would escape the output directory.
func safeRel(name string) (string, error) {
	if name == "" {
		name = "untitled"
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New("refusing to extract outside the output directory: " + name)
	}
	return clean, nil
}
