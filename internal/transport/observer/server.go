// Package observer streams per-turn summaries of a run to loopback
// websocket clients. Slow clients lose messages; the run never waits.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"statecraft.ai/internal/observerproto"
	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/state"
)

type session struct {
	out chan []byte

	mu  sync.Mutex
	sub observerproto.SubscribeMsg
}

func (s *session) filter() observerproto.SubscribeMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

func (s *session) setFilter(sub observerproto.SubscribeMsg) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
}

type Server struct {
	log zerolog.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu        sync.RWMutex
	sessions  map[string]*session
	bootstrap observerproto.BootstrapResponse
}

func NewServer(logger zerolog.Logger) *Server {
	return &Server{
		log:      logger,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			// Connections are restricted to loopback below.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		bootstrap: observerproto.BootstrapResponse{ProtocolVersion: observerproto.Version},
	}
}

// SetRun describes the run being observed.
func (s *Server) SetRun(runID, scenario, baseCountry string, g *state.GlobalState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bootstrap = observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		RunID:           runID,
		Scenario:        scenario,
		BaseCountry:     baseCountry,
		Turn:            g.T,
		Countries:       g.CountryCodes(),
	}
}

// Sessions is the number of subscribed clients.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Dropped counts messages discarded because a client fell behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Publish fans one turn out to every session, filtered per subscription.
// g is the state after the turn.
func (s *Server) Publish(runID string, g *state.GlobalState, a audit.StepAudit) {
	s.mu.Lock()
	s.bootstrap.Turn = g.T
	sessions := make([]*session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()
	if len(sessions) == 0 {
		return
	}

	digest := g.Digest()
	for _, ss := range sessions {
		b, err := json.Marshal(BuildTurnMsg(runID, digest, g, a, ss.filter()))
		if err != nil {
			s.log.Warn().Err(err).Msg("observer: encode turn")
			continue
		}
		select {
		case ss.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

// BuildTurnMsg renders the message one subscriber sees for a turn.
func BuildTurnMsg(runID, digest string, g *state.GlobalState, a audit.StepAudit, sub observerproto.SubscribeMsg) observerproto.TurnMsg {
	want := map[string]bool{}
	for _, c := range sub.Countries {
		want[c] = true
	}
	keep := func(code string) bool { return len(want) == 0 || want[code] }

	msg := observerproto.TurnMsg{
		Type:            observerproto.TypeTurn,
		ProtocolVersion: observerproto.Version,
		RunID:           runID,
		Turn:            a.Timestep,
		Digest:          digest,
		TriggersFired:   a.TriggersFired,
		Countries:       []observerproto.CountrySummary{},
	}
	for _, code := range g.CountryCodes() {
		c := g.Countries[code]
		if c == nil || !keep(code) {
			continue
		}
		msg.Countries = append(msg.Countries, observerproto.CountrySummary{
			Code:              code,
			Inflation:         c.Macro.Inflation,
			PolicyRate:        c.Macro.PolicyRate,
			OutputGap:         c.Macro.OutputGap,
			Unemployment:      c.Macro.Unemployment,
			DebtGDP:           c.Macro.DebtGDP,
			FXRate:            c.External.FXRate,
			BankTier1Ratio:    c.Finance.BankTier1Ratio,
			ConflictIntensity: c.Security.ConflictIntensity,
			Approval:          c.Sentiment.Approval,
		})
	}
	for _, e := range a.Errors {
		if e.Country != "" && !keep(e.Country) {
			continue
		}
		msg.Errors = append(msg.Errors, observerproto.ErrorInfo{
			Kind:    string(e.Kind),
			Source:  e.Source,
			Country: e.Country,
			Message: e.Message,
		})
	}
	if sub.WithChanges {
		for _, fc := range a.FieldChanges {
			if len(msg.Changes) >= sub.MaxChanges {
				break
			}
			if code := countryOf(fc.FieldPath); code != "" && !keep(code) {
				continue
			}
			msg.Changes = append(msg.Changes, observerproto.Change{
				FieldPath: fc.FieldPath,
				Reducer:   fc.ReducerName,
				Old:       fc.OldValue,
				New:       fc.NewValue,
			})
		}
	}
	return msg
}

func countryOf(path string) string {
	parts := strings.SplitN(path, ".", 3)
	if len(parts) < 3 || parts[0] != "countries" {
		return ""
	}
	return parts[1]
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		s.mu.RLock()
		resp := s.bootstrap
		s.mu.RUnlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(raw)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		ss := &session{out: make(chan []byte, 64), sub: sub}
		s.mu.Lock()
		s.sessions[sid] = ss
		s.mu.Unlock()
		s.log.Debug().Str("session", sid).Strs("countries", sub.Countries).Msg("observer joined")
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sid)
			s.mu.Unlock()
			s.log.Debug().Str("session", sid).Msg("observer left")
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-ss.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := parseSubscribe(raw); ok {
				ss.setFilter(sub)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(raw []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	normalizeSubscribe(&sub)
	return sub, true
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.MaxChanges <= 0 {
		sub.MaxChanges = 256
	}
	if sub.MaxChanges > 4096 {
		sub.MaxChanges = 4096
	}
	sort.Strings(sub.Countries)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
