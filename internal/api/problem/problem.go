// Package problem renders RFC 7807 problem documents.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	ContentType = "application/problem+json"
	baseTypeURL = "https://errors.custody-ledger.dev/"
	traceHeader = "X-Trace-ID"
)

// Details is an RFC 7807 problem with the trace id as an extension member.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
}

// Type expands a slug such as "withdraw/not-found" into a type URI.
func Type(slug string) string {
	return baseTypeURL + strings.TrimPrefix(slug, "/")
}

// New builds a problem for r. An empty title defaults to the status text
// and an empty type to about:blank.
func New(r *http.Request, status int, problemType, title, detail string) Details {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	d := Details{Type: problemType, Title: title, Status: status, Detail: detail}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get(traceHeader)
	}
	return d
}

// Render writes d, taking the trace id from the response when the request
// did not carry one.
func (d Details) Render(w http.ResponseWriter) {
	if d.RequestID == "" {
		d.RequestID = w.Header().Get(traceHeader)
	}
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	New(r, status, problemType, title, detail).Render(w)
}
