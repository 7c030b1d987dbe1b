// Package archive reads the open-data snapshot layout: a directory tree
// data/<category>/<year>/<month>/<day>/ holding one gzip-compressed tar per
// poll, named after the poll time (e.g. 2026-03-02T08.05.00.json.tar.gz)
// and containing the raw JSON payload as its only member.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CategoryLines is the category holding line status snapshots.
const CategoryLines = "lines"

// WalkFunc receives each snapshot's poll time and raw payload body in
// chronological order.
type WalkFunc func(ts time.Time, body []byte) error

// Walker iterates a snapshot archive tree.
type Walker struct {
	root string
	loc  *time.Location
}

func NewWalker(root string, loc *time.Location) *Walker {
	if loc == nil {
		loc = time.UTC
	}
	return &Walker{root: root, loc: loc}
}

// Walk visits every snapshot under root/category in timestamp order.
// Files that are empty or do not follow the naming scheme are skipped with
// a log line; extraction errors stop the walk.
func (w *Walker) Walk(category string, fn WalkFunc) error {
	base := filepath.Join(w.root, category)
	years, err := sortedDirNames(base)
	if err != nil {
		return fmt.Errorf("walk archive %s: %w", base, err)
	}
	for _, year := range years {
		months, err := sortedDirNames(filepath.Join(base, year))
		if err != nil {
			return err
		}
		for _, month := range months {
			days, err := sortedDirNames(filepath.Join(base, year, month))
			if err != nil {
				return err
			}
			for _, day := range days {
				dir := filepath.Join(base, year, month, day)
				names, err := sortedFileNames(dir)
				if err != nil {
					return err
				}
				for _, name := range names {
					ts, ok := w.snapshotTime(year, month, day, name)
					if !ok {
						log.Printf("skipping unrecognized archive file %s", filepath.Join(dir, name))
						continue
					}
					body, err := extract(filepath.Join(dir, name))
					if err != nil {
						return fmt.Errorf("extract %s: %w", filepath.Join(dir, name), err)
					}
					if len(body) == 0 {
						log.Printf("skipping empty snapshot %s", filepath.Join(dir, name))
						continue
					}
					if err := fn(ts, body); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// snapshotTime derives the poll time from the directory components and the
// HH.MM.SS portion of the file name.
func (w *Walker) snapshotTime(year, month, day, name string) (time.Time, bool) {
	if len(name) < 19 {
		return time.Time{}, false
	}
	y, err1 := strconv.Atoi(year)
	mo, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	h, err4 := strconv.Atoi(name[11:13])
	mi, err5 := strconv.Atoi(name[14:16])
	s, err6 := strconv.Atoi(name[17:19])
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			return time.Time{}, false
		}
	}
	return time.Date(y, time.Month(mo), d, h, mi, s, 0, w.loc), true
}

// extract returns the first regular member of a gzip-compressed tar file.
func extract(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		return io.ReadAll(tr)
	}
}

func sortedDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func sortedFileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".tar.gz") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
