package app

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
)

// staticFiles serves the front-end pages from one directory. Dotfiles, the
// document cache and quarantined copies of it are never served.
type staticFiles struct {
	root   string
	hidden map[string]struct{}
}

func newStaticFiles(root string, hidden []string) *staticFiles {
	if root == "" {
		root = "."
	}
	files := &staticFiles{root: root, hidden: make(map[string]struct{}, len(hidden))}
	for _, name := range hidden {
		if abs, err := filepath.Abs(name); err == nil {
			files.hidden[abs] = struct{}{}
		}
	}
	return files
}

func (f *staticFiles) register(router *mux.Router) {
	router.HandleFunc("/", f.page("index.html", "Not Found")).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/prayers", f.page("prayers.html", "Not Found")).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/admin", f.page("admin.html", "Not Found")).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/staff", f.page("staff.html", "Staff page not created. Add staff.html in project root.")).Methods(http.MethodGet, http.MethodHead)
	router.PathPrefix("/").
		MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
			return !strings.HasPrefix(r.URL.Path, "/api/")
		}).
		HandlerFunc(f.serve).
		Methods(http.MethodGet, http.MethodHead)
}

func (f *staticFiles) page(name, missing string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.send(w, r, filepath.Join(f.root, name), missing)
	}
}

func (f *staticFiles) serve(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	f.send(w, r, filepath.Join(f.root, filepath.FromSlash(rel)), "Not Found")
}

func (f *staticFiles) send(w http.ResponseWriter, r *http.Request, name, missing string) {
	if !f.servable(name) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(missing))
		return
	}
	w.Header().Del("Content-Type")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, name)
}

func (f *staticFiles) servable(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.Contains(base, ".corrupt-") {
		return false
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if _, hidden := f.hidden[abs]; hidden {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}
