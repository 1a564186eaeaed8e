package seriallink

import (
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"
)

var sendCommandTemplate = template.Must(template.New("send-command").Parse(`<!DOCTYPE html>
<html><head><title>send command</title></head>
<body>
<h1>Send camera command</h1>
<form method="POST" action="/debug/send-command-api">
  <label>Command byte (decimal or 0x hex) <input name="command" value="0x10"></label>
  <button type="submit">Send</button>
</form>
</body></html>`))

// ParseCommandByte accepts "16", "0x10" or "0X10".
func ParseCommandByte(s string) (byte, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid command byte %q: %w", s, err)
	}
	return byte(v), nil
}

// AttachAdminRoutes mounts a raw command console under /debug/. send is the
// caller's serialised path to the link so debug writes never interleave with
// a capture in flight.
func AttachAdminRoutes(mux *http.ServeMux, send func(byte) error) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a raw command byte to the camera board", func(w http.ResponseWriter, r *http.Request) {
		if err := sendCommandTemplate.Execute(w, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		b, err := ParseCommandByte(r.FormValue("command"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := send(b); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write command: %v", err), http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command 0x%02X to serial port", b))
	})
}
