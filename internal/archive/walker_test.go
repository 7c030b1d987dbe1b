package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSnapshot creates a tar.gz snapshot file at the path the walker
// expects for the given timestamp.
func writeSnapshot(t *testing.T, root string, ts time.Time, body []byte) {
	t.Helper()
	dir := filepath.Join(root, "lines",
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", int(ts.Month())),
		fmt.Sprintf("%02d", ts.Day()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	jsonName := ts.Format("2006-01-02T15.04.05") + ".json"

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: jsonName, Mode: 0o644, Size: int64(len(body))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, jsonName+".tar.gz"), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkChronologicalOrder(t *testing.T) {
	root := t.TempDir()
	times := []time.Time{
		time.Date(2026, 2, 28, 23, 55, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	// Write out of order; the walker must still visit chronologically.
	for _, i := range []int{2, 0, 3, 1} {
		writeSnapshot(t, root, times[i], []byte(fmt.Sprintf(`[{"seq":%d}]`, i)))
	}

	var visited []time.Time
	w := NewWalker(root, time.UTC)
	err := w.Walk(CategoryLines, func(ts time.Time, body []byte) error {
		visited = append(visited, ts)
		if len(body) == 0 {
			t.Error("empty body passed to walk func")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(visited) != len(times) {
		t.Fatalf("visited %d snapshots, want %d", len(visited), len(times))
	}
	for i, ts := range times {
		if !visited[i].Equal(ts) {
			t.Errorf("visit %d = %s, want %s", i, visited[i], ts)
		}
	}
}

func TestWalkSkipsEmptyAndMalformed(t *testing.T) {
	root := t.TempDir()
	ts := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	writeSnapshot(t, root, ts, []byte(`[]`))

	// Empty payload member.
	empty := ts.Add(5 * time.Minute)
	writeSnapshot(t, root, empty, nil)

	// File that does not follow the naming scheme.
	dir := filepath.Join(root, "lines", "2026", "03", "02")
	if err := os.WriteFile(filepath.Join(dir, "junk.tar.gz"), []byte("not a tarball"), 0o644); err != nil {
		t.Fatal(err)
	}

	var count int
	w := NewWalker(root, time.UTC)
	err := w.Walk(CategoryLines, func(time.Time, []byte) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if count != 1 {
		t.Errorf("visited %d snapshots, want 1", count)
	}
}

func TestWalkPropagatesCallbackError(t *testing.T) {
	root := t.TempDir()
	writeSnapshot(t, root, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), []byte(`[]`))

	wantErr := fmt.Errorf("stop here")
	w := NewWalker(root, time.UTC)
	err := w.Walk(CategoryLines, func(time.Time, []byte) error { return wantErr })
	if err == nil || err.Error() != "stop here" {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
