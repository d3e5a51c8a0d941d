package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/picatz/dohclient/pkg/provider"
	"github.com/sirupsen/logrus"
)

// maxArgsSize bounds the JSON arguments of a call.
const maxArgsSize = 8 << 20

type providerInfo struct {
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	JSONURL   string   `json:"jsonUrl,omitempty"`
	Bootstrap []string `json:"bootstrap"`
}

// Handler returns an HTTP handler serving the calls of the bridge:
//
//	POST /v1/{call}     JSON Args in, JSON result map out
//	GET  /v1/providers  the supported providers
func (b *Bridge) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)

	router.Methods(http.MethodGet).Path("/v1/providers").Name("providers").HandlerFunc(b.serveProviders)
	router.Methods(http.MethodPost).Path("/v1/{call}").Name("call").HandlerFunc(b.serveCall)

	router.Use(b.logRequests)

	return router
}

func (b *Bridge) serveCall(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["call"]

	var args Args

	err := json.NewDecoder(io.LimitReader(r.Body, maxArgsSize)).Decode(&args)
	if err != nil && !errors.Is(err, io.EOF) {
		b.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid arguments: " + err.Error()})
		return
	}

	result, err := b.Call(r.Context(), name, args)
	if errors.Is(err, ErrNotImplemented) {
		b.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "not implemented"})
		return
	}

	b.writeJSON(w, http.StatusOK, result)
}

func (b *Bridge) serveProviders(w http.ResponseWriter, r *http.Request) {
	var infos []providerInfo

	for _, p := range provider.All() {
		cfg := p.Config()

		info := providerInfo{
			Name:    cfg.Name,
			URL:     cfg.URL,
			JSONURL: cfg.JSONURL,
		}

		for _, addr := range cfg.Bootstrap {
			info.Bootstrap = append(info.Bootstrap, addr.String())
		}

		infos = append(infos, info)
	}

	b.writeJSON(w, http.StatusOK, infos)
}

// logRequests logs every request once it has been served.
func (b *Bridge) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		route := ""
		if current := mux.CurrentRoute(r); current != nil {
			route = current.GetName()
		}

		b.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"route":    route,
			"duration": time.Since(start),
		}).Info("served")
	})
}

func (b *Bridge) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		b.log.WithError(err).WithField("status", status).Error("failed to write response")
	}
}
