package assets

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
)

type zipEntry struct {
	name    string
	body    string
	symlink bool
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.symlink {
			hdr.SetMode(os.ModeSymlink | 0o777)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.name, err)
		}
		if e.body != "" {
			if _, err := w.Write([]byte(e.body)); err != nil {
				t.Fatalf("zip write %s: %v", e.name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func writeZip(t *testing.T, dir string, entries ...zipEntry) string {
	t.Helper()
	f, err := os.CreateTemp(dir, "archive-*.zip")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	if _, err := f.Write(buildZip(t, entries...)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return f.Name()
}

// archiveServer serves archives by path; unknown paths return 404.
type archiveServer struct {
	mu    sync.Mutex
	files map[string][]byte
	hits  map[string]int
	srv   *httptest.Server
}

func newArchiveServer(t *testing.T) *archiveServer {
	t.Helper()
	a := &archiveServer{files: map[string][]byte{}, hits: map[string]int{}}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		body, ok := a.files[r.URL.Path]
		a.hits[r.URL.Path]++
		a.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(body)
	}))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *archiveServer) put(path string, body []byte) string {
	a.mu.Lock()
	a.files[path] = body
	a.mu.Unlock()
	return a.srv.URL + path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir %s: %v", dir, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

type countingMetrics struct {
	mu       sync.Mutex
	installs map[string]int
}

func (c *countingMetrics) IncInstalls(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.installs == nil {
		c.installs = map[string]int{}
	}
	c.installs[result]++
}
func (c *countingMetrics) ObserveInstallDuration(float64) {}
func (c *countingMetrics) IncServerStarts(string)         {}
func (c *countingMetrics) IncActivations(string)          {}
