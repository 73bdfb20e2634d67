package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const maxEnvelopeSize = 1 << 20

// MonitoringHandler forwards error reports from browser clients to the
// Sentry ingest endpoint of the configured frontend DSN.
type MonitoringHandler struct {
	dsn    string
	client *http.Client
}

// NewMonitoringHandler creates a MonitoringHandler. An empty dsn disables it.
func NewMonitoringHandler(dsn string) *MonitoringHandler {
	return &MonitoringHandler{dsn: dsn, client: &http.Client{}}
}

// Tunnel relays one envelope. The DSN in the envelope header must match the
// configured one so the endpoint cannot be used as an open relay.
func (h *MonitoringHandler) Tunnel(w http.ResponseWriter, r *http.Request) {
	if h.dsn == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeSize))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	headerLine, _, _ := bytes.Cut(body, []byte("\n"))
	var header struct {
		DSN string `json:"dsn"`
	}
	if err := json.Unmarshal(headerLine, &header); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if header.DSN != h.dsn {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ingestURL, err := envelopeURL(header.DSN)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, ingestURL, bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to build monitoring request", slog.Any("error", err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/x-sentry-envelope")

	resp, err := h.client.Do(req)
	if err != nil {
		slog.Warn("failed to forward monitoring envelope", slog.Any("error", err))
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.WriteHeader(resp.StatusCode)
}

// envelopeURL maps scheme://key@host/project to scheme://host/api/project/envelope/.
func envelopeURL(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	project := strings.Trim(u.Path, "/")
	if u.Host == "" || project == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "", errors.New("invalid dsn")
	}
	return u.Scheme + "://" + u.Host + "/api/" + project + "/envelope/", nil
}
