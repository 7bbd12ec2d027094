package backend

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hireloop/hireloop/pkg/transport"
)

var _ http.Handler = (*Backend)(nil)

// maxBodyBytes bounds request payloads served over HTTP.
const maxBodyBytes = 1 << 20

// ServeHTTP adapts the router to net/http, bypassing the simulated
// channel: the URL path and query map directly onto the request shape,
// and replies are written as JSON with their status code. Server errors
// serialize as {"error": "..."}.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeHTTPError(w, &transport.ServerError{Status: 400, Message: "request body too large or unreadable"})
		return
	}

	resp, err := b.Handle(r.Context(), &transport.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Params: r.URL.Query(),
		Body:   body,
	})
	if err != nil {
		var serr *transport.ServerError
		if errors.As(err, &serr) {
			writeHTTPError(w, serr)
			return
		}
		writeHTTPError(w, &transport.ServerError{Status: 500, Message: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func writeHTTPError(w http.ResponseWriter, serr *transport.ServerError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(serr.Status)
	// ServerError marshals as {"error": message}.
	body, err := json.Marshal(serr)
	if err != nil {
		body = []byte(`{"error":"internal error"}`)
	}
	w.Write(body)
}
