package serialmux

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

//go:embed templates/*
var consoleFS embed.FS

var consolePage = template.Must(template.ParseFS(consoleFS, "templates/send-command.html.tmpl"))

// AttachAdminRoutes mounts a small station console on the tsweb debugger:
// a page to type commands, an endpoint that writes them and an SSE tail of
// the station's lines. tsweb limits /debug/ to local and tailnet callers.
func (s *StationMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("send-command", "sniffer station console", serveConsole)
	debug.HandleSilentFunc("send-command-api", s.handleCommand)
	debug.HandleSilentFunc("tail", s.handleTail)
	debug.HandleSilentFunc("tail.js", serveTailScript)
}

func serveConsole(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := consolePage.Execute(w, nil); err != nil {
		http.Error(w, "render console", http.StatusInternalServerError)
	}
}

func serveTailScript(w http.ResponseWriter, r *http.Request) {
	js, err := consoleFS.ReadFile("templates/tail.js")
	if err != nil {
		http.Error(w, "tail.js missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(js)
}

func (s *StationMux[T]) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "missing command", http.StatusBadRequest)
		return
	}
	if err := s.SendCommand(command); err != nil {
		http.Error(w, "write to station failed", http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "sent %q", command)
}

func (s *StationMux[T]) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	id, lines := s.Subscribe()
	defer s.Unsubscribe(id)

	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
