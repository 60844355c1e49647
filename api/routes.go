package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/david325345/animetoday-docker/handlers"
)

// Register mounts the addon endpoints onto r and returns the router wrapped with CORS,
// which Stremio clients require on every response.
func Register(r *mux.Router, addonHandler *handlers.AddonHandler, metricsHandler http.Handler, staticDir string) http.Handler {
	r.HandleFunc("/manifest.json", addonHandler.Manifest).Methods(http.MethodGet)
	r.HandleFunc("/catalog/{type}/{id}.json", addonHandler.Catalog).Methods(http.MethodGet)
	r.HandleFunc("/catalog/{type}/{id}/{extra}.json", addonHandler.Catalog).Methods(http.MethodGet)
	r.HandleFunc("/meta/{type}/{id}.json", addonHandler.Meta).Methods(http.MethodGet)
	r.HandleFunc("/stream/{type}/{id}.json", addonHandler.Streams).Methods(http.MethodGet)
	r.HandleFunc("/resolve/{token}", addonHandler.Resolve).Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc("/refresh", addonHandler.Refresh).Methods(http.MethodPost)
	r.HandleFunc("/health", addonHandler.Health).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	if staticDir != "" {
		r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/manifest.json", http.StatusFound)
	}).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(r)
}
