package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
)

const (
	writeWait       = 10 * time.Second
	maxMessageBytes = 4096
)

// VisibilityFunc decides whether the principal may see the row state an event
// carries.
type VisibilityFunc func(p identity.Principal, evt Event) bool

// PrincipalRefresher reloads a connected user's role and blocked flag. An
// UNAUTHORIZED or FORBIDDEN answer ends the session.
type PrincipalRefresher interface {
	Resolve(ctx context.Context, userID uuid.UUID) (identity.Principal, error)
}

// ClientMessage is what a websocket client sends.
type ClientMessage struct {
	Action string `json:"action"`
	Table  string `json:"table"`
	Status string `json:"status,omitempty"`
}

// ServerMessage is what the server pushes. Type is one of ack, error, change
// or removed.
type ServerMessage struct {
	Type     string `json:"type"`
	Action   string `json:"action,omitempty"`
	Table    string `json:"table,omitempty"`
	Status   string `json:"status,omitempty"`
	Message  string `json:"message,omitempty"`
	Event    *Event `json:"event,omitempty"`
	RecordID string `json:"record_id,omitempty"`
}

// Hub serves websocket sessions on top of a Broker.
type Hub struct {
	broker       *Broker
	visible      VisibilityFunc
	refresher    PrincipalRefresher
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	buffer       int
	logg         *logger.Logger
}

// HubParams configures a Hub.
type HubParams struct {
	Broker         *Broker
	Visible        VisibilityFunc
	Refresher      PrincipalRefresher
	AllowedOrigins []string
	PingInterval   time.Duration
	Buffer         int
	Logger         *logger.Logger
}

func NewHub(params HubParams) *Hub {
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	ping := params.PingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	buffer := params.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		broker:    params.Broker,
		visible:   params.Visible,
		refresher: params.Refresher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(params.AllowedOrigins),
		},
		pingInterval: ping,
		buffer:       buffer,
		logg:         logg,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(strings.TrimSpace(origin), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// Serve upgrades the request and runs the session until the client goes away.
// The caller has already authenticated p.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, p identity.Principal) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	ctx := h.logg.WithUserID(context.WithoutCancel(r.Context()), p.ID.String())
	s := &session{
		hub:        h,
		conn:       conn,
		principal:  p,
		reconciler: NewReconciler(0),
		out:        make(chan ServerMessage, h.buffer),
		subs:       make(map[string]*Subscription),
	}
	s.run(ctx)
	return nil
}

type session struct {
	hub        *Hub
	conn       *websocket.Conn
	reconciler *Reconciler
	out        chan ServerMessage

	mu        sync.Mutex
	principal identity.Principal
	subs      map[string]*Subscription
	wg        sync.WaitGroup
}

func (s *session) current() identity.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

// refresh re-reads the principal on every ping tick so role changes apply to
// later events. It reports false once the account is blocked or gone.
func (s *session) refresh(ctx context.Context) bool {
	if s.hub.refresher == nil {
		return true
	}
	p, err := s.hub.refresher.Resolve(ctx, s.current().ID)
	switch {
	case err == nil:
		s.mu.Lock()
		s.principal = p
		s.mu.Unlock()
		return true
	case pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), pkgerrors.IsCode(err, pkgerrors.CodeForbidden):
		s.hub.logg.Info(s.hub.logg.WithField(ctx, "reason", err.Error()), "realtime.session_revoked")
		return false
	}
	s.hub.logg.Warn(s.hub.logg.WithField(ctx, "error", err.Error()), "realtime.refresh_failed")
	return true
}

func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.hub.logg.Info(ctx, "realtime.session_open")

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(ctx)
	}()

	s.readLoop(ctx)
	cancel()

	s.mu.Lock()
	for key, sub := range s.subs {
		sub.Unsubscribe()
		delete(s.subs, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
	<-done
	_ = s.conn.Close()

	s.hub.logg.Info(parent, "realtime.session_closed")
}

func (s *session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.hub.pingInterval))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * s.hub.pingInterval))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.send(ctx, ServerMessage{Type: "error", Message: "malformed message"})
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *session) handle(ctx context.Context, msg ClientMessage) {
	filter, err := s.filterFor(msg)
	if err != nil {
		s.send(ctx, ServerMessage{Type: "error", Action: msg.Action, Message: err.Error()})
		return
	}
	key := msg.Table + "|" + msg.Status

	switch strings.ToLower(msg.Action) {
	case "subscribe":
		s.mu.Lock()
		_, exists := s.subs[key]
		s.mu.Unlock()
		if !exists {
			sub, err := s.hub.broker.Subscribe(filter)
			if err != nil {
				s.send(ctx, ServerMessage{Type: "error", Action: msg.Action, Message: err.Error()})
				return
			}
			s.mu.Lock()
			s.subs[key] = sub
			s.mu.Unlock()
			s.wg.Add(1)
			go s.forward(ctx, sub)
		}
	case "unsubscribe":
		s.mu.Lock()
		sub, ok := s.subs[key]
		delete(s.subs, key)
		s.mu.Unlock()
		if ok {
			sub.Unsubscribe()
		}
	default:
		s.send(ctx, ServerMessage{Type: "error", Action: msg.Action, Message: "unknown action"})
		return
	}
	s.send(ctx, ServerMessage{Type: "ack", Action: msg.Action, Table: msg.Table, Status: msg.Status})
}

func (s *session) filterFor(msg ClientMessage) (Filter, error) {
	switch msg.Table {
	case TablePrescriptions, TablePharmacyResponses:
	default:
		return Filter{}, errUnknownTable
	}
	filter := Filter{Table: msg.Table}
	if msg.Status != "" {
		status, err := enums.ParsePrescriptionStatus(msg.Status)
		if err != nil {
			return Filter{}, err
		}
		filter.Status = &status
	}
	return filter, nil
}

// forward applies visibility and reconciliation before queueing a change. A
// record the client saw earlier but may no longer see produces a removed
// notice carrying only its id.
func (s *session) forward(ctx context.Context, sub *Subscription) {
	defer s.wg.Done()
	for evt := range sub.Events() {
		if s.hub.visible == nil || s.hub.visible(s.current(), evt) {
			if s.reconciler.Apply(evt) {
				e := evt
				s.send(ctx, ServerMessage{Type: "change", Event: &e})
			}
			continue
		}
		if s.reconciler.Forget(evt.RecordID) {
			s.send(ctx, ServerMessage{Type: "removed", Table: evt.Table, RecordID: evt.RecordID.String()})
		}
	}
}

func (s *session) send(ctx context.Context, msg ServerMessage) {
	select {
	case s.out <- msg:
	case <-ctx.Done():
	}
}

func (s *session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.hub.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.hub.logg.Warn(ctx, "realtime.write_failed")
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			if !s.refresh(ctx) {
				_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session revoked"), time.Now().Add(writeWait))
				_ = s.conn.Close()
				return
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}
