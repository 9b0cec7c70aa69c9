package handlers

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/events"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/middleware"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = 50 * time.Second
)

func (a *App) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
}

// checkOrigin accepts clients without an Origin header, same-host pages and
// the configured CORS origins.
func (a *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(a.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Events streams the caller's job events over a websocket, each with a
// message in the request locale.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if a.EventsBus == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "events not configured")
		return
	}
	locale := middleware.LocaleFromContext(r.Context())
	log := a.Logger.With().Str("user_id", userID).Logger()

	// Subscribe before upgrading so nothing published after the handshake is missed.
	stream, unsubscribe, err := a.EventsBus.Subscribe(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("subscribe to events")
		a.error(w, http.StatusInternalServerError, "internal", "failed to subscribe")
		return
	}
	defer unsubscribe()

	conn, err := a.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	log.Debug().Msg("events client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("events client read error")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			log.Debug().Msg("events client disconnected")
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			ev.Message = events.Localize(locale, ev)
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("events write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
