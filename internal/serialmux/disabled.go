package serialmux

import (
	"context"
	"io"
	"net/http"
)

// DisabledStation stands in when no sniffer station is attached, so the
// locator can run on observations posted over HTTP alone. Subscriber
// channels still close on Unsubscribe or Close so ingest loops unblock
// during shutdown.
type DisabledStation struct {
	hub *hub
}

func NewDisabledStation() *DisabledStation {
	return &DisabledStation{hub: newHub(0)}
}

func (d *DisabledStation) Subscribe() (string, chan string) { return d.hub.subscribe() }
func (d *DisabledStation) Unsubscribe(id string)            { d.hub.unsubscribe(id) }
func (d *DisabledStation) SendCommand(string) error         { return nil }
func (d *DisabledStation) Initialize() error                { return nil }

func (d *DisabledStation) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledStation) Close() error {
	d.hub.close()
	return nil
}

func (d *DisabledStation) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "no sniffer station attached")
	})
}
