package http

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// SPAHandler serves the tenant and owner single page application from a
// static filesystem. Unknown paths fall back to index.html so client-side
// routes such as /fill-agreement/{key} resolve.
type SPAHandler struct {
	StaticFS fs.FS
}

func (h SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// API paths never fall back to the SPA
	if strings.HasPrefix(r.URL.Path, "/api/") {
		respondError(w, http.StatusNotFound, "not found")
		return
	}

	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" || name == "." {
		h.serveIndex(w)
		return
	}

	f, err := h.StaticFS.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			h.serveIndex(w)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err == nil && stat.IsDir() {
		h.serveIndex(w)
		return
	}

	// Bundler output under assets/ is content-hashed
	if strings.HasPrefix(name, "assets/") {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	http.FileServer(http.FS(h.StaticFS)).ServeHTTP(w, r)
}

func (h SPAHandler) serveIndex(w http.ResponseWriter) {
	content, err := fs.ReadFile(h.StaticFS, "index.html")
	if err != nil {
		http.Error(w, "index.html not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}
