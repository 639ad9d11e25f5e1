package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ratio1/treestore_sdk_go/internal/treeapi"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore"
)

type failConfig struct {
	rate float64
	code int
}

func parseFailConfig(raw string) (failConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return failConfig{}, nil
	}
	cfg := failConfig{code: http.StatusInternalServerError}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return failConfig{}, fmt.Errorf("invalid fail segment %q", part)
		}
		val = strings.TrimSpace(val)
		switch strings.TrimSpace(key) {
		case "rate":
			rate, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return failConfig{}, err
			}
			if rate < 0 || rate > 1 {
				return failConfig{}, fmt.Errorf("fail rate %v outside [0,1]", rate)
			}
			cfg.rate = rate
		case "code":
			code, err := strconv.Atoi(val)
			if err != nil {
				return failConfig{}, err
			}
			cfg.code = code
		default:
			return failConfig{}, fmt.Errorf("unknown fail key %q", key)
		}
	}
	return cfg, nil
}

type serverConfig struct {
	latency time.Duration
	fail    failConfig
	// auth, when set, must match the "auth" query parameter.
	auth   string
	logger *slog.Logger
	// random replaces rand.Float64 in tests.
	random func() float64
}

// sandbox serves a treestore.Backend over the REST dialect.
type sandbox struct {
	store    treestore.Backend
	cfg      serverConfig
	requests *prometheus.CounterVec
}

func newRouter(store treestore.Backend, reg *prometheus.Registry, cfg serverConfig) http.Handler {
	if cfg.random == nil {
		cfg.random = rand.Float64
	}
	s := &sandbox{
		store: treestore.Instrument(store, reg),
		cfg:   cfg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treestore",
			Subsystem: "sandbox",
			Name:      "requests_total",
			Help:      "HTTP requests served by the sandbox.",
		}, []string{"method", "code"}),
	}
	reg.MustRegister(s.requests)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.injectFaults)
		r.Use(s.checkAuth)
		r.Get("/*", s.handleGet)
		r.Put("/*", s.handlePut)
		r.Post("/*", s.handlePost)
		r.Delete("/*", s.handleDelete)
	})
	return r
}

func (s *sandbox) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.requests.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		s.cfg.logger.Info("request",
			"id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func (s *sandbox) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.latency > 0 {
			select {
			case <-time.After(s.cfg.latency):
			case <-r.Context().Done():
				return
			}
		}
		if s.cfg.fail.rate > 0 && s.cfg.random() < s.cfg.fail.rate {
			status := s.cfg.fail.code
			if status == 0 {
				status = http.StatusInternalServerError
			}
			writeError(w, status, "failure injected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *sandbox) checkAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.auth != "" && r.URL.Query().Get("auth") != s.cfg.auth {
			writeError(w, http.StatusUnauthorized, "Permission denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// nodePath extracts the node path from "/<path>.json".
func nodePath(r *http.Request) (string, error) {
	rest := chi.URLParam(r, "*")
	if !strings.HasSuffix(rest, ".json") {
		return "", errors.New("paths must end in .json")
	}
	return treeapi.CleanPath(strings.TrimSuffix(rest, ".json")), nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return nil, false
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "Invalid data; couldn't parse JSON object, array, or value.")
		return nil, false
	}
	return body, true
}

func (s *sandbox) handleGet(w http.ResponseWriter, r *http.Request) {
	path, err := nodePath(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	data, err := s.store.Get(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *sandbox) handlePut(w http.ResponseWriter, r *http.Request) {
	path, err := nodePath(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := s.store.Put(r.Context(), path, body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *sandbox) handlePost(w http.ResponseWriter, r *http.Request) {
	path, err := nodePath(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	key, err := s.store.Post(r.Context(), path, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := treeapi.EncodePushKey(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *sandbox) handleDelete(w http.ResponseWriter, r *http.Request) {
	path, err := nodePath(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := s.store.Delete(r.Context(), path); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, []byte("null"))
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	body, _ := treeapi.Marshal(map[string]string{"error": msg})
	writeJSON(w, status, body)
}
