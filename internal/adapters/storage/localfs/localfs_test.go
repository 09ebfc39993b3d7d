package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"montage/internal/pkg/errors"
	"montage/internal/ports"
)

func TestPutGetDelete(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	out, err := fs.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   "renders/job-1/out.mp4",
		ContentType: "video/mp4",
		Reader:      strings.NewReader("video bytes"),
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if out.Size != 11 || out.ObjectKey != "renders/job-1/out.mp4" {
		t.Errorf("PutObject = %+v", out)
	}

	rc, ct, size, err := fs.GetObject(ctx, out.ObjectKey)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "video bytes" || size != 11 || ct != "video/mp4" {
		t.Errorf("GetObject = %q, %s, %d", data, ct, size)
	}

	entries, _ := os.ReadDir(filepath.Join(fs.root, "renders", "job-1"))
	if len(entries) != 1 {
		t.Errorf("temporary upload files left: %v", entries)
	}

	if err := fs.DeleteObject(ctx, out.ObjectKey); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if err := fs.DeleteObject(ctx, out.ObjectKey); err != nil {
		t.Errorf("second delete: %v", err)
	}
	if _, _, _, err := fs.GetObject(ctx, out.ObjectKey); !errors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND after delete, got %v", err)
	}
}

func TestKeyEscapingRoot(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, _, _, err = fs.GetObject(context.Background(), "../../etc/passwd")
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPutCanceled(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fs.PutObject(ctx, ports.PutObjectInput{ObjectKey: "a.mp4", Reader: strings.NewReader("x")})
	if err == nil {
		t.Fatal("expected error for canceled upload")
	}
	if _, err := os.Stat(filepath.Join(fs.root, "a.mp4")); !os.IsNotExist(err) {
		t.Errorf("partial object left behind")
	}
}
