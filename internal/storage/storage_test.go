package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    Location
		wantErr bool
	}{
		{uri: "s3://bucket/path/to/file.nc", want: Location{Scheme: "s3", Bucket: "bucket", Key: "path/to/file.nc"}},
		{uri: "file:///tmp/data.h5", want: Location{Scheme: "file", Key: "/tmp/data.h5"}},
		{uri: "/tmp/data.h5", want: Location{Scheme: "file", Key: "/tmp/data.h5"}},
		{uri: "relative/data.h5", want: Location{Scheme: "file", Key: "relative/data.h5"}},
		{uri: "s3://bucketonly", wantErr: true},
		{uri: "s3://bucket/", wantErr: true},
		{uri: "gs://bucket/key", wantErr: true},
		{uri: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseURI(tt.uri)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseURI(%q): expected error", tt.uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseURI(%q): %v", tt.uri, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseURI(%q) = %+v, want %+v", tt.uri, got, tt.want)
		}
	}
}

func TestOpenLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := []byte("hello reference world")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	r, size, closeFn, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer closeFn()

	if size != uint64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}

	buf := make([]byte, 5)
	if _, err := r.ReadAt(buf, 6); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if string(buf) != "refer" {
		t.Errorf("ReadAt = %q", buf)
	}
}

func TestReadWriteAllLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refs.json")
	payload := []byte(`{"version": 1}`)

	if err := WriteAll(context.Background(), path, payload, Options{}); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}

	got, err := ReadAll(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestFillRange(t *testing.T) {
	buf := make([]byte, 8)
	n, err := fillRange(strings.NewReader("abcdefgh"), buf)
	if err != nil {
		t.Fatalf("fillRange failed: %v", err)
	}
	if n != 8 || string(buf) != "abcdefgh" {
		t.Errorf("fillRange = %d, %q", n, buf)
	}

	// A body shorter than the requested range is an error, never a
	// silent short read.
	if _, err := fillRange(strings.NewReader("abc"), make([]byte, 8)); err == nil {
		t.Error("expected error for short body")
	} else if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
	if _, err := fillRange(strings.NewReader(""), make([]byte, 8)); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, _, _, err := Open(context.Background(), "/nonexistent/path/file.h5", Options{})
	if err == nil {
		t.Error("expected error for missing file")
	}
}
