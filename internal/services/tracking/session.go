// Package tracking runs carrier tracking sessions: the handshake state
// machine, the per-load registry of live sessions and sample ingestion.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/apperr"
	"github.com/BarnabyWild/logistack-sub000/internal/auth"
	"github.com/BarnabyWild/logistack-sub000/internal/models"
	"github.com/BarnabyWild/logistack-sub000/internal/storage"
)

// ErrClosed tells the transport to stop reading; the session has closed
// the connection itself.
var ErrClosed = errors.New("tracking session closed")

type State int

const (
	StateConnected State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type CloseReason int

const (
	CloseNormal CloseReason = iota
	CloseAuthFailed
	CloseLoadFull
	CloseIdle
	CloseShutdown
)

// Conn is the transport side of a session.
type Conn interface {
	Send(ctx context.Context, f OutboundFrame) error
	Close(reason CloseReason, message string) error
}

type LoadReader interface {
	GetLoad(ctx context.Context, id string) (*models.Load, error)
}

type Policy struct {
	// MaxSessionsPerLoad <= 0 means unlimited.
	MaxSessionsPerLoad int
	// IdleTimeout <= 0 disables closing silent connections.
	IdleTimeout time.Duration
	// RequireAssignedCarrier makes the handshake check that the carrier
	// is the one assigned to the load.
	RequireAssignedCarrier bool
}

// Service opens sessions. One Service and its Registry live for the
// lifetime of the process.
type Service struct {
	registry *Registry
	auth     auth.Authenticator
	pipeline *Pipeline
	loads    LoadReader
	policy   Policy

	now   func() time.Time
	newID func() string
}

func NewService(registry *Registry, a auth.Authenticator, pipeline *Pipeline, loads LoadReader, policy Policy) *Service {
	return &Service{
		registry: registry,
		auth:     a,
		pipeline: pipeline,
		loads:    loads,
		policy:   policy,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Policy() Policy { return s.policy }
func (s *Service) Registry() *Registry { return s.registry }
func (s *Service) Pipeline() *Pipeline { return s.pipeline }

// Open greets a new connection and returns its unauthenticated session.
func (s *Service) Open(ctx context.Context, conn Conn) (*Session, error) {
	sess := &Session{id: s.newID(), svc: s, conn: conn}
	if err := conn.Send(ctx, OutboundFrame{Type: FrameConnected}); err != nil {
		return nil, errors.Wrap(err, "send connected")
	}
	return sess, nil
}

type Session struct {
	id   string
	svc  *Service
	conn Conn

	mu        sync.Mutex
	state     State
	loadID    string
	carrierID string
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle processes one inbound frame. A non-nil error means the read loop
// must stop: either the session closed the connection or sending failed.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	if s.State() == StateClosed {
		return ErrClosed
	}

	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return s.send(ctx, errorFrame("malformed frame"))
	}

	switch f.Type {
	case FramePing:
		now := s.svc.now().UTC()
		return s.send(ctx, OutboundFrame{Type: FramePong, Timestamp: &now})
	case FrameInit:
		return s.handleInit(ctx, f)
	case FrameLocationUpdate:
		return s.handleLocation(ctx, f)
	case "":
		return s.send(ctx, errorFrame("frame type is required"))
	default:
		return s.send(ctx, errorFrame(fmt.Sprintf("unknown frame type %q", f.Type)))
	}
}

func (s *Session) handleInit(ctx context.Context, f InboundFrame) error {
	if s.State() != StateConnected {
		return s.send(ctx, errorFrame("session is already authenticated"))
	}
	loadID := strings.TrimSpace(f.LoadID)
	if loadID == "" {
		return s.send(ctx, errorFrame("loadId is required"))
	}

	actor, err := s.svc.auth.Authenticate(ctx, f.Credential)
	if err != nil {
		return s.reject(ctx, CloseAuthFailed, apperr.As(err).PublicMessage())
	}
	if actor.Role != models.RoleCarrier {
		return s.reject(ctx, CloseAuthFailed, "tracking sessions are for carriers only")
	}
	if s.svc.policy.RequireAssignedCarrier {
		if msg := s.checkAssigned(ctx, loadID, actor.ID); msg != "" {
			return s.reject(ctx, CloseAuthFailed, msg)
		}
	}

	if err := s.svc.registry.Add(loadID, s.id, actor.ID); err != nil {
		return s.reject(ctx, CloseLoadFull, err.Error())
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.svc.registry.Remove(loadID, s.id)
		return ErrClosed
	}
	s.state = StateAuthenticated
	s.loadID = loadID
	s.carrierID = actor.ID
	s.mu.Unlock()

	slog.Info("tracking session authenticated", "session_id", s.id, "load_id", loadID, "carrier_id", actor.ID)
	return s.send(ctx, OutboundFrame{Type: FrameAuthenticated, CarrierID: actor.ID, LoadID: loadID})
}

// checkAssigned returns a rejection message, or "" when the carrier holds the load.
func (s *Session) checkAssigned(ctx context.Context, loadID, carrierID string) string {
	if s.svc.loads == nil {
		return "load lookup is not available"
	}
	l, err := s.svc.loads.GetLoad(ctx, loadID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Sprintf("load %s not found", loadID)
	}
	if err != nil {
		slog.Error("tracking load lookup", "load_id", loadID, "error", err.Error())
		return "internal error"
	}
	if !l.AssignedTo(carrierID) {
		return fmt.Sprintf("load %s is not assigned to carrier %s", loadID, carrierID)
	}
	return ""
}

func (s *Session) handleLocation(ctx context.Context, f InboundFrame) error {
	s.mu.Lock()
	state, loadID, carrierID := s.state, s.loadID, s.carrierID
	s.mu.Unlock()

	if state != StateAuthenticated {
		return s.send(ctx, errorFrame("not authenticated"))
	}
	if f.LoadID != loadID {
		return s.send(ctx, errorFrame(fmt.Sprintf("loadId %q does not match session load %q", f.LoadID, loadID)))
	}

	smp, err := s.svc.pipeline.Ingest(ctx, carrierID, f.locationInput())
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			slog.Error("tracking ingest", "session_id", s.id, "load_id", loadID, "error", err.Error())
		}
		return s.send(ctx, errorFrame(describe(err)))
	}
	return s.send(ctx, OutboundFrame{Type: FrameLocationReceived, SampleID: smp.ID, ReceivedAt: &smp.ReceivedAt})
}

// describe renders an error for an error frame.
func describe(err error) string {
	ae := apperr.As(err)
	if len(ae.Violations) == 0 {
		return ae.PublicMessage()
	}
	parts := make([]string, 0, len(ae.Violations))
	for _, v := range ae.Violations {
		parts = append(parts, v.Field+" "+v.Message)
	}
	return strings.Join(parts, "; ")
}

func (s *Session) reject(ctx context.Context, reason CloseReason, msg string) error {
	if err := s.conn.Send(ctx, errorFrame(msg)); err != nil {
		slog.Debug("tracking send before close", "session_id", s.id, "error", err.Error())
	}
	s.CloseWith(reason, msg)
	return ErrClosed
}

func (s *Session) send(ctx context.Context, f OutboundFrame) error {
	if err := s.conn.Send(ctx, f); err != nil {
		return errors.Wrap(err, "send frame")
	}
	return nil
}

// Close deregisters the session after the transport went away.
func (s *Session) Close() {
	s.finish()
}

// CloseWith deregisters the session and closes the connection.
func (s *Session) CloseWith(reason CloseReason, msg string) {
	if !s.finish() {
		return
	}
	if err := s.conn.Close(reason, msg); err != nil {
		slog.Debug("tracking close", "session_id", s.id, "error", err.Error())
	}
}

// finish moves the session to Closed once; it reports whether this call did it.
func (s *Session) finish() bool {
	s.mu.Lock()
	prev := s.state
	s.state = StateClosed
	loadID := s.loadID
	s.mu.Unlock()

	if prev == StateClosed {
		return false
	}
	if prev == StateAuthenticated {
		s.svc.registry.Remove(loadID, s.id)
		slog.Info("tracking session closed", "session_id", s.id, "load_id", loadID)
	}
	return true
}
