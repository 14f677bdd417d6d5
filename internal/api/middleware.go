package api

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

const (
	ansiReset = "\033[0m"
	ansiCyan  = "\033[36m"
)

// statusColors is indexed by status class (code / 100).
var statusColors = [...]string{
	2: "\033[1;32m",
	3: "\033[33m",
	4: "\033[1;31m",
	5: "\033[1;31m",
}

func colorStatus(code int) string {
	class := code / 100
	if class < 0 || class >= len(statusColors) || statusColors[class] == "" {
		return http.StatusText(code)
	}
	return statusColors[class] + http.StatusText(code) + ansiReset
}

// statusRecorder remembers the status written through it. Flush and Hijack
// pass through so the station tail can stream and /ws/runs can upgrade.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("%T cannot be hijacked", r.ResponseWriter)
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// LoggingMiddleware logs one line per request with status, method, URI and
// latency.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[%d %s] %s %s%s%s %.2fms",
			rec.status, colorStatus(rec.status), r.Method,
			ansiCyan, r.RequestURI, ansiReset,
			float64(time.Since(start).Microseconds())/1000)
	})
}
