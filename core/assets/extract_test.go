package assets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	archive := writeZip(t, t.TempDir(),
		zipEntry{name: "www/"},
		zipEntry{name: "www/index.html", body: "<html>"},
		zipEntry{name: "www/js/app.js", body: "console.log(1)"},
		zipEntry{name: "www/link", body: "/etc/passwd", symlink: true},
	)
	dest := t.TempDir()
	if err := Extract(archive, dest, Limits{}); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := readFile(t, filepath.Join(dest, "www", "js", "app.js")); got != "console.log(1)" {
		t.Fatalf("unexpected content %q", got)
	}
	if _, err := os.Lstat(filepath.Join(dest, "www", "link")); !os.IsNotExist(err) {
		t.Fatalf("symlink entry should be skipped")
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../evil.txt", "a/../../evil.txt", "/abs.txt"} {
		archive := writeZip(t, t.TempDir(), zipEntry{name: name, body: "x"})
		dest := filepath.Join(t.TempDir(), "out")
		if err := os.MkdirAll(dest, 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := Extract(archive, dest, Limits{}); err == nil {
			t.Fatalf("expected %q rejected", name)
		}
		if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "evil.txt")); !os.IsNotExist(err) {
			t.Fatalf("entry %q escaped destination", name)
		}
	}
}

func TestExtractLimits(t *testing.T) {
	archive := writeZip(t, t.TempDir(),
		zipEntry{name: "a.txt", body: "1"},
		zipEntry{name: "b.txt", body: "2"},
	)
	if err := Extract(archive, t.TempDir(), Limits{MaxFiles: 1}); err == nil || !strings.Contains(err.Error(), "max files") {
		t.Fatalf("expected max files error, got %v", err)
	}
	big := writeZip(t, t.TempDir(), zipEntry{name: "big.txt", body: strings.Repeat("x", 64)})
	if err := Extract(big, t.TempDir(), Limits{MaxFileBytes: 16}); err == nil {
		t.Fatalf("expected file size error")
	}
	if err := Extract(archive, t.TempDir(), Limits{MaxTotalBytes: 1}); err == nil {
		t.Fatalf("expected total size error")
	}
}

func TestExtractNotZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.zip")
	if err := os.WriteFile(path, []byte("not a zip"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Extract(path, t.TempDir(), Limits{}); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()
	if got, err := safeJoin(base, "a/b.txt"); err != nil || got != filepath.Join(base, "a", "b.txt") {
		t.Fatalf("safeJoin: %s %v", got, err)
	}
	for _, bad := range []string{"", ".", "..", "../x", `..\x`, "/x"} {
		if _, err := safeJoin(base, bad); err == nil {
			t.Fatalf("expected %q rejected", bad)
		}
	}
}
