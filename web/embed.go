// Package web serves the embedded browser chat client.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
)

//go:embed all:dist
var distFS embed.FS

const chatPage = "index.html"

// ChatPage returns a handler for the chat client. Static assets are served
// as-is; every other path gets the chat page so deep links keep working.
func ChatPage() http.Handler {
	site, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: dist missing from embed: " + err.Error())
	}
	assets := http.FileServerFS(site)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean(r.URL.Path)[1:]
		if info, err := fs.Stat(site, name); err == nil && !info.IsDir() {
			assets.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFileFS(w, r, site, chatPage)
	})
}
