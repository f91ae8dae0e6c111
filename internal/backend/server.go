/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"wallnewspaper/internal/layout"
	applog "wallnewspaper/internal/log"
	"wallnewspaper/internal/version"
)

// Config holds server configuration.
type Config struct {
	DBURL  string // empty selects the in-memory store
	Addr   string // http bind address, e.g., ":8080"
	Secret string // HMAC secret for bearer tokens
}

// ConfigFromEnv reads WNP_PG_DSN / DATABASE_URL, PORT / ADDR and WNP_AUTH_SECRET.
func ConfigFromEnv() Config {
	cfg := Config{
		DBURL:  os.Getenv("DATABASE_URL"),
		Addr:   ":8080",
		Secret: os.Getenv("WNP_AUTH_SECRET"),
	}
	if v := os.Getenv("WNP_PG_DSN"); v != "" {
		cfg.DBURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	return cfg
}

// Start opens the store, serves the API on cfg.Addr and shuts down when ctx ends.
func Start(ctx context.Context, cfg Config) error {
	l := applog.WithComponent("backend")
	var store Store = NewMemStore()
	if cfg.DBURL != "" {
		pg, err := OpenPG(ctx, cfg.DBURL)
		if err != nil {
			return err
		}
		store = pg
	} else {
		l.Warn("no database configured; instance state is kept in memory")
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Error("store close", slog.Any("err", err))
		}
	}()

	secret := cfg.Secret
	if secret == "" {
		secret = "dev-secret-change-me"
		l.Warn("WNP_AUTH_SECRET not set; using insecure dev secret")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(store, secret),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	l.Info("replication server listening", slog.String("addr", cfg.Addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// NewHandler returns the HTTP API over store.
func NewHandler(store Store, secret string) http.Handler {
	l := applog.WithComponent("backend.http")
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store not ready"))
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(version.String()))
	})

	// POST /api/auth/token → { token, expires_at }
	mux.HandleFunc("POST /api/auth/token", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Subject    string `json:"subject"`
			TTLSeconds int64  `json:"ttl_seconds"`
		}
		b, _ := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		_ = json.Unmarshal(b, &req)
		if req.Subject == "" {
			req.Subject = "viewer"
		}
		if req.TTLSeconds <= 0 || req.TTLSeconds > 24*3600 {
			req.TTLSeconds = 3600
		}
		exp := time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
		tok, err := signToken(secret, req.Subject, exp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      tok,
			"expires_at": exp.UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("POST /api/instances/{id}/join", withAuth(secret, func(w http.ResponseWriter, r *http.Request, sub string) {
		res, err := store.Join(r.Context(), r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		l.Info("participant joined", slog.String("instance", res.Instance), slog.String("sub", sub), slog.Bool("owner", res.IsOwner()))
		writeJSON(w, http.StatusOK, res)
	}))

	mux.HandleFunc("POST /api/instances/{id}/leave", withAuth(secret, func(w http.ResponseWriter, r *http.Request, _ string) {
		var req struct {
			Participant string `json:"participant"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		st, err := store.Leave(r.Context(), r.PathValue("id"), req.Participant)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}))

	mux.HandleFunc("GET /api/instances/{id}/offset", withAuth(secret, func(w http.ResponseWriter, r *http.Request, _ string) {
		st, err := store.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}))

	mux.HandleFunc("PUT /api/instances/{id}/offset", withAuth(secret, func(w http.ResponseWriter, r *http.Request, _ string) {
		var req struct {
			Participant string `json:"participant"`
			Offset      int    `json:"offset"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Offset < 0 || req.Offset >= layout.PageCount {
			writeError(w, http.StatusBadRequest, fmt.Errorf("offset %d out of range [0,%d)", req.Offset, layout.PageCount))
			return
		}
		st, err := store.SetOffset(r.Context(), r.PathValue("id"), req.Participant, req.Offset)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		l.Info("offset published", slog.String("instance", st.Instance), slog.Int("offset", st.Offset), slog.Int64("version", st.Version))
		writeJSON(w, http.StatusOK, st)
	}))

	return mux
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

// --- Helpers: auth and JSON ---

type tokenClaims struct {
	Sub string `json:"sub"`
	Exp int64  `json:"exp"` // unix seconds
}

func signToken(secret, subject string, exp time.Time) (string, error) {
	b, err := json.Marshal(tokenClaims{Sub: subject, Exp: exp.Unix()})
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(b) + "." + enc.EncodeToString(mac(secret, b)), nil
}

func verifyToken(secret, token string) (string, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", errors.New("invalid token format")
	}
	payloadB, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", errors.New("invalid token payload")
	}
	sigB, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", errors.New("invalid token signature")
	}
	if !hmac.Equal(mac(secret, payloadB), sigB) {
		return "", errors.New("bad signature")
	}
	var claims tokenClaims
	if err := json.Unmarshal(payloadB, &claims); err != nil {
		return "", errors.New("bad claims")
	}
	if claims.Exp < time.Now().Unix() {
		return "", errors.New("token expired")
	}
	return claims.Sub, nil
}

func mac(secret string, b []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write(b)
	return h.Sum(nil)
}

func withAuth(secret string, next func(w http.ResponseWriter, r *http.Request, subject string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "bearer "
		if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("missing bearer token"))
			return
		}
		sub, err := verifyToken(secret, strings.TrimSpace(auth[len(prefix):]))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("invalid token"))
			return
		}
		next(w, r, sub)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrNotOwner):
		writeError(w, http.StatusForbidden, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
