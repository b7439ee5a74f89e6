// Cardmon
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Cardmon.
//
// Cardmon is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Cardmon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Cardmon.  If not, see <http://www.gnu.org/licenses/>.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/cardmon/pkg/api/middleware"
	"github.com/ZaparooProject/cardmon/pkg/api/models"
	"github.com/ZaparooProject/cardmon/pkg/api/notifications"
	"github.com/ZaparooProject/cardmon/pkg/assuan"
	"github.com/ZaparooProject/cardmon/pkg/config"
	"github.com/ZaparooProject/cardmon/pkg/smartcard"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	notificationBuffer = 100
	eventBuffer        = 32
	shutdownTimeout    = 5 * time.Second
	maxBodySize        = 4096
)

// Monitor is the part of the card monitor the API serves.
type Monitor interface {
	CardInfos() smartcard.Table
	PinStates(slot uint) []smartcard.PinState
	AnyCardHasNullPin() bool
	AnyCardCanLearnKeys() bool
	UpdateStatus()
	StartSimpleTransaction(command string, handle any, callback func(smartcard.Completion)) uuid.UUID
	Subscribe(bufferSize int) (events <-chan smartcard.Event, id int)
	Unsubscribe(id int)
}

// Server is the HTTP and WebSocket status API.
type Server struct {
	monitor       Monitor
	cfg           *config.Instance
	limiter       *middleware.IPRateLimiter
	ws            *melody.Melody
	notifications chan models.Notification
	router        chi.Router
}

func NewServer(cfg *config.Instance, monitor Monitor, clock clockwork.Clock) *Server {
	perMinute, burst := cfg.RateLimit()
	s := &Server{
		monitor:       monitor,
		cfg:           cfg,
		limiter:       middleware.NewIPRateLimiter(clock, perMinute, burst),
		ws:            melody.New(),
		notifications: make(chan models.Notification, notificationBuffer),
	}
	s.router = s.routes()
	return s
}

// Handler returns the router with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.NoCache)
	r.Use(middleware.HTTPRateLimitMiddleware(s.limiter))

	origins := s.cfg.AllowedOrigins()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{},
	}))

	s.ws.Upgrader.CheckOrigin = func(r *http.Request) bool {
		return checkWebSocketOrigin(r, origins)
	}
	s.ws.HandleMessage(middleware.WebSocketRateLimitHandler(s.limiter, handleWSMessage))

	// the event stream is long-lived, keep it out of the request timeout
	r.Get("/api/events", func(w http.ResponseWriter, r *http.Request) {
		if err := s.ws.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.APIRequestTimeout))

		r.Get("/api/readers", s.handleReaders)
		r.Get("/api/readers/summary", s.handleSummary)
		r.Get("/api/readers/{slot}", s.handleReader)
		r.Get("/api/readers/{slot}/pins", s.handlePins)

		r.Group(func(r chi.Router) {
			r.Use(requireAllowedOrigin(origins))
			r.Post("/api/readers/update", s.handleUpdate)
			// a JSON content type makes browsers preflight cross-origin posts
			r.With(chimiddleware.AllowContentType("application/json")).
				Post("/api/transactions", s.handleTransaction)
		})
	})

	return r
}

// checkWebSocketOrigin allows clients without an Origin header (non-browser
// tools), same-host origins and the configured origins.
func checkWebSocketOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	host := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	return strings.EqualFold(host, r.Host)
}

// requireAllowedOrigin rejects state-changing requests sent by a browser
// page on an origin checkWebSocketOrigin would not accept.
func requireAllowedOrigin(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checkWebSocketOrigin(r, allowed) {
				log.Warn().
					Str("origin", r.Header.Get("Origin")).
					Str("path", r.URL.Path).
					Msg("rejected request from disallowed origin")
				writeError(w, http.StatusForbidden, "origin not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleWSMessage(session *melody.Session, msg []byte) {
	// ping command for heartbeat operation
	if string(msg) == "ping" {
		if err := session.Write([]byte("pong")); err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}
	log.Debug().Int("size", len(msg)).Msg("ignoring websocket message")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("error encoding response")
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, models.ErrorResponse{Error: models.ErrorObject{
		Code:    code,
		Message: message,
	}})
}

func slotParam(r *http.Request) (uint, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, "slot"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid slot: %w", err)
	}
	return uint(v), nil
}

func (s *Server) handleReaders(w http.ResponseWriter, _ *http.Request) {
	infos := s.monitor.CardInfos()
	if infos == nil {
		infos = smartcard.Table{}
	}
	writeJSON(w, http.StatusOK, models.ReadersResponse{Readers: infos})
}

func (s *Server) handleReader(w http.ResponseWriter, r *http.Request) {
	slot, err := slotParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.CardInfos().At(slot))
}

func (s *Server) handlePins(w http.ResponseWriter, r *http.Request) {
	slot, err := slotParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pins := s.monitor.PinStates(slot)
	if pins == nil {
		pins = []smartcard.PinState{}
	}
	writeJSON(w, http.StatusOK, models.PinsResponse{Slot: slot, PinStates: pins})
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	infos := s.monitor.CardInfos()
	if infos == nil {
		infos = smartcard.Table{}
	}
	writeJSON(w, http.StatusOK, models.SummaryResponse{
		Readers:             infos,
		AnyCardHasNullPin:   s.monitor.AnyCardHasNullPin(),
		AnyCardCanLearnKeys: s.monitor.AnyCardCanLearnKeys(),
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, _ *http.Request) {
	s.monitor.UpdateStatus()
	w.WriteHeader(http.StatusAccepted)
}

// validateCommand rejects commands that could not be sent as one Assuan
// line.
func validateCommand(command string) error {
	switch {
	case strings.TrimSpace(command) == "":
		return errors.New("command is required")
	case strings.ContainsAny(command, "\r\n"):
		return errors.New("command must be a single line")
	case len(command) >= assuan.MaxLineLength:
		return fmt.Errorf("command exceeds %d bytes", assuan.MaxLineLength-1)
	}
	return nil
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	var req models.TransactionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateCommand(req.Command); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	client := r.RemoteAddr
	id := s.monitor.StartSimpleTransaction(req.Command, client, func(c smartcard.Completion) {
		log.Debug().
			Str("id", c.ID.String()).
			Str("command", c.Command).
			AnErr("error", c.Err).
			Msg("transaction finished")
		notifications.TransactionFinished(s.notifications, c)
	})
	log.Info().Str("id", id.String()).Str("client", client).Str("command", req.Command).
		Msg("queued transaction")

	writeJSON(w, http.StatusAccepted, models.TransactionResponse{ID: id})
}

// forwardEvents turns card monitor events into notifications until the
// subscription closes or ctx is done.
func (s *Server) forwardEvents(ctx context.Context) {
	events, id := s.monitor.Subscribe(eventBuffer)
	defer s.monitor.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			notifications.FromEvent(s.notifications, ev)
		}
	}
}

func (s *Server) broadcastNotifications(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("stopping notification broadcast")
			return
		case notif := <-s.notifications:
			data, err := json.Marshal(models.NotificationObject{
				JSONRPC: "2.0",
				Method:  notif.Method,
				Params:  notif.Params,
			})
			if err != nil {
				log.Error().Err(err).Msg("marshalling notification")
				continue
			}

			if err := s.ws.Broadcast(data); err != nil {
				log.Error().Err(err).Msg("broadcasting notification")
			}
		}
	}
}

// Serve serves the API on ln until ctx is done. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if !middleware.IsLoopbackAddr(ln.Addr().String()) {
		log.Warn().Str("addr", ln.Addr().String()).
			Msg("status API is reachable from other hosts and can send agent commands")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.forwardEvents(gctx)
		return nil
	})
	g.Go(func() error {
		s.broadcastNotifications(gctx)
		return nil
	})
	g.Go(func() error {
		s.limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("starting status API")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := s.ws.Close(); err != nil {
			log.Debug().Err(err).Msg("closing websocket sessions")
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down status API: %w", err)
		}
		return nil
	})

	return g.Wait()
}
