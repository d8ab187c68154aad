package leaflet

import (
	_ "embed"
	"fmt"
	"net/http"
)

//go:embed map.html
var pageHTML []byte

// ServePage serves the embedded console page.
func (b *Bridge) ServePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(pageHTML)
}

// ServeEvents streams widget ops to one page as Server-Sent Events: a
// replay of the current widget state first, then live ops until the page
// goes away.
func (b *Bridge) ServeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := b.subscribe()
	defer cancel()

	b.logger.Debug("map page subscribed", "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				// Dropped for falling behind; the page reconnects and gets
				// a fresh replay.
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
