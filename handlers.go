package main

import (
	"encoding/json"
	"fmt"
	"html"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kwv/trackmesh/config"
	"github.com/kwv/trackmesh/track"
	"github.com/kwv/trackmesh/vehicle"
)

// vehicleStatus is one entry of the /vehicles listing.
type vehicleStatus struct {
	ID          string `json:"id"`
	Connected   bool   `json:"connected"`
	OnCharger   bool   `json:"onCharger"`
	Session     string `json:"session,omitempty"`
	State       string `json:"state"`
	Pieces      int    `json:"pieces"`
	Transitions int    `json:"transitions"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(registry *vehicle.Registry, sessions *sessionSet, cfg *config.Config, rotateAll float64) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		mapped := 0
		for _, id := range sessions.IDs() {
			if s, ok := sessions.Get(id); ok && s.State() == track.MapperCompleted {
				mapped++
			}
		}
		writeJSON(w, struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Vehicles  int       `json:"vehicles"`
			Mapped    int       `json:"mapped"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Vehicles:  registry.Len(),
			Mapped:    mapped,
		})
	})

	mux.HandleFunc("GET /vehicles", func(w http.ResponseWriter, r *http.Request) {
		statuses := []vehicleStatus{}
		for _, id := range sessions.IDs() {
			s, _ := sessions.Get(id)
			st := vehicleStatus{
				ID:          id,
				State:       s.State().String(),
				Pieces:      len(s.Pieces()),
				Transitions: s.Transitions(),
			}
			if v, ok := registry.Get(id); ok {
				st.Connected = v.Connected()
				st.OnCharger = v.OnCharger()
				st.Session = v.Session()
			}
			statuses = append(statuses, st)
		}
		writeJSON(w, statuses)
	})

	mux.HandleFunc("GET /vehicles/{id}/pieces", withSession(sessions, func(w http.ResponseWriter, r *http.Request, s *track.Session) {
		writeJSON(w, s.Pieces())
	}))

	mux.HandleFunc("GET /vehicles/{id}/topology", withSession(sessions, func(w http.ResponseWriter, r *http.Request, s *track.Session) {
		writeJSON(w, s.Topology())
	}))

	mux.HandleFunc("GET /vehicles/{id}/progress", withSession(sessions, func(w http.ResponseWriter, r *http.Request, s *track.Session) {
		pr, ok := s.Progress()
		if !ok {
			http.Error(w, "No progress yet", http.StatusNotFound)
			return
		}
		writeJSON(w, pr)
	}))

	// Map endpoints need a finished map
	mux.HandleFunc("GET /vehicles/{id}/map", withDocument(sessions, func(w http.ResponseWriter, r *http.Request, s *track.Session, doc track.Document) {
		writeJSON(w, doc)
	}))

	mux.HandleFunc("GET /vehicles/{id}/track.geojson", withDocument(sessions, func(w http.ResponseWriter, r *http.Request, s *track.Session, doc track.Document) {
		w.Header().Set("Content-Type", "application/geo+json")
		if err := json.NewEncoder(w).Encode(track.DocumentToFeatureCollection(doc)); err != nil {
			log.Printf("Error encoding GeoJSON: %v", err)
		}
	}))

	mux.HandleFunc("GET /vehicles/{id}/track.svg", withDocument(sessions, func(w http.ResponseWriter, r *http.Request, s *track.Session, doc track.Document) {
		renderer := liveRenderer(s, doc, cfg, rotateAll)
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error encoding track SVG: %v", err)
		}
	}))

	// ?format=raster serves the labelled grid preview instead of the vector rendering
	mux.HandleFunc("GET /vehicles/{id}/track.png", withDocument(sessions, func(w http.ResponseWriter, r *http.Request, s *track.Session, doc track.Document) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		var err error
		if r.URL.Query().Get("format") == "raster" {
			err = track.NewRasterRenderer(doc.Pieces).RenderToPNG(w)
		} else {
			err = liveRenderer(s, doc, cfg, rotateAll).RenderToPNG(w)
		}
		if err != nil {
			log.Printf("Error encoding track PNG: %v", err)
		}
	}))

	// Default route serves HTML page embedding the SVG maps
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		var imgs strings.Builder
		for _, id := range sessions.IDs() {
			esc := html.EscapeString(id)
			fmt.Fprintf(&imgs, "<figure><img src=\"/vehicles/%s/track.svg\" alt=\"%s\"><figcaption>%s</figcaption></figure>\n", esc, esc, esc)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>trackmesh</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{background:#1a1a1a;color:#ddd;font-family:sans-serif;display:flex;flex-wrap:wrap}
figure{flex:1 1 480px;padding:8px}
img{display:block;width:100%%;height:auto}
</style>
</head>
<body>
%s</body>
</html>`, imgs.String())
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// withSession resolves the {id} path value to a session or answers 404.
func withSession(sessions *sessionSet, fn func(http.ResponseWriter, *http.Request, *track.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessions.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "Unknown vehicle", http.StatusNotFound)
			return
		}
		fn(w, r, s)
	}
}

// withDocument is withSession for endpoints that need a finished map.
func withDocument(sessions *sessionSet, fn func(http.ResponseWriter, *http.Request, *track.Session, track.Document)) http.HandlerFunc {
	return withSession(sessions, func(w http.ResponseWriter, r *http.Request, s *track.Session) {
		doc, ok := s.Document()
		if !ok {
			http.Error(w, "Track not mapped yet", http.StatusNotFound)
			return
		}
		fn(w, r, s, doc)
	})
}

// liveRenderer renders a finished map with the vehicle's current position in
// its configured color.
func liveRenderer(s *track.Session, doc track.Document, cfg *config.Config, rotateAll float64) *track.VectorRenderer {
	renderer := track.NewVectorRenderer(doc.Pieces)
	renderer.GlobalRotation = rotateAll
	if pr, ok := s.Progress(); ok {
		renderer.Progress = &pr
	}
	if cfg != nil {
		if vc := cfg.GetVehicleByID(doc.VehicleID); vc != nil && vc.Color != "" {
			renderer.VehicleColor = vc.Color
		}
	}
	return renderer
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
