package localserver

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const indexFile = "index.html"

// staticHandler serves files under root for GET and HEAD.
func staticHandler(root string) http.Handler {
	root = filepath.Clean(root)
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if hasDotDot(r.URL.Path) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		rel := path.Clean("/" + r.URL.Path)
		full := filepath.Join(root, filepath.FromSlash(rel))

		info, err := os.Stat(full)
		if err == nil && info.IsDir() {
			full = filepath.Join(full, indexFile)
			info, err = os.Stat(full)
		}
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if !info.Mode().IsRegular() {
			http.NotFound(w, r)
			return
		}
		if resolved, err := filepath.EvalSymlinks(full); err != nil || !within(realRoot, resolved) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		// #nosec G304 -- full is confined to root above.
		f, err := os.Open(full)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		defer f.Close()
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}

func hasDotDot(p string) bool {
	if !strings.Contains(p, "..") {
		return false
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && !filepath.IsAbs(rel)
}
