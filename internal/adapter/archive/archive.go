// Package archive unpacks GSOD year tarballs and gzip-compressed station files on local disk.
package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/couchcryptid/gsod-etl/internal/domain"
)

// ExtractTar writes the station files contained in a gsod_YYYY.tar into dir and returns
// their paths. Members are flattened to their base name and anything that is not a
// station file (directories, readme files, links) is skipped.
func ExtractTar(tarPath, dir string) ([]string, error) {
	f, err := os.Open(tarPath)
	if err != nil {
		return nil, errors.Wrap(err, "open tarball")
	}
	defer f.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create extract dir")
	}

	var paths []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return paths, nil
		}
		if err != nil {
			return paths, errors.Wrapf(err, "read %s", tarPath)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(filepath.Clean("/" + hdr.Name))
		if !domain.IsSourceName(name) {
			continue
		}

		dest := filepath.Join(dir, name)
		if err := writeFile(dest, tr); err != nil {
			return paths, errors.Wrapf(err, "extract %s", hdr.Name)
		}
		paths = append(paths, dest)
	}
}

// Gunzip decompresses a ".op.gz" file next to itself and removes the compressed copy.
// Paths that are already plain ".op" files are returned unchanged.
func Gunzip(src string) (string, error) {
	if !strings.HasSuffix(src, ".gz") {
		return src, nil
	}
	in, err := os.Open(src)
	if err != nil {
		return "", errors.Wrap(err, "open")
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return "", errors.Wrapf(err, "gunzip %s", src)
	}
	defer zr.Close()

	dest := PlainName(src)
	if err := writeFile(dest, zr); err != nil {
		return "", errors.Wrapf(err, "gunzip %s", src)
	}
	if err := os.Remove(src); err != nil {
		return "", errors.Wrap(err, "remove compressed file")
	}
	return dest, nil
}

// PlainName returns the path a compressed station file has once gunzipped.
func PlainName(path string) string {
	return strings.TrimSuffix(path, ".gz")
}

// Open returns a reader over a station file, decompressing ".gz" files on the fly.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open source")
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "gunzip %s", path)
	}
	return &gzipFile{Reader: zr, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return zerr
}

// writeFile streams r into dest through a temp file so a failed write never leaves a
// truncated file behind.
func writeFile(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return err
	}
	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
	}
	return err
}

// ListSources walks the given files and directories and returns every station file found.
// Directories are searched recursively; explicitly named files must be station files.
func ListSources(paths []string) ([]domain.SourceFile, error) {
	var out []domain.SourceFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrap(err, "stat source")
		}
		if !info.IsDir() {
			src, err := domain.ParseSourcePath(p)
			if err != nil {
				return nil, err
			}
			out = append(out, src)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !domain.IsSourceName(d.Name()) {
				return nil
			}
			src, err := domain.ParseSourcePath(path)
			if err != nil {
				return nil // not named USAF-WBAN-YEAR
			}
			out = append(out, src)
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "walk %s", p)
		}
	}
	return out, nil
}

// Prune removes the files in dir named "<USAF>-<WBAN><ext>" whose station is not in keep
// and returns the removed paths. A missing dir is not an error.
func Prune(dir, ext string, keep map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read output dir")
	}
	var removed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, ".") {
			continue
		}
		if keep[strings.TrimSuffix(name, ext)] {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			return removed, err
		}
		removed = append(removed, path)
	}
	return removed, nil
}
