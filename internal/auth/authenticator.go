package auth

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"strings"
	"time"

	"github.com/BarnabyWild/logistack-sub000/internal/apperr"
	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

// Authenticator turns a credential into a verified actor. Downstream code
// trusts the result without re-verification.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (models.Actor, error)
}

type TokenAuthenticator struct {
	pub      ed25519.PublicKey
	audience string
	now      func() time.Time
}

func NewTokenAuthenticator(pub ed25519.PublicKey, audience string) *TokenAuthenticator {
	return &TokenAuthenticator{pub: pub, audience: audience, now: time.Now}
}

func (a *TokenAuthenticator) WithClock(now func() time.Time) *TokenAuthenticator {
	a.now = now
	return a
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, credential string) (models.Actor, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return models.Actor{}, apperr.Authentication("credential is required")
	}
	c, err := VerifyAt(a.pub, credential, a.audience, a.now())
	if err != nil {
		return models.Actor{}, apperr.Authentication("%s", err.Error())
	}
	return models.Actor{ID: c.Subject, Role: c.Role}, nil
}

type UserRecorder interface {
	UpsertUser(ctx context.Context, u models.User) error
}

// Recording wraps an Authenticator and records every verified principal so
// that other components can check that a user exists and what role it has.
type Recording struct {
	next  Authenticator
	users UserRecorder
	now   func() time.Time
}

func NewRecording(next Authenticator, users UserRecorder) *Recording {
	return &Recording{next: next, users: users, now: time.Now}
}

func (r *Recording) Authenticate(ctx context.Context, credential string) (models.Actor, error) {
	actor, err := r.next.Authenticate(ctx, credential)
	if err != nil {
		return actor, err
	}
	now := r.now().UTC()
	if err := r.users.UpsertUser(ctx, models.User{ID: actor.ID, Role: actor.Role, CreatedAt: now, LastSeen: now}); err != nil {
		// A failed upsert must not lock the user out.
		slog.Warn("record principal", "actor_id", actor.ID, "error", err.Error())
	}
	return actor, nil
}

type actorKey struct{}

func WithActor(ctx context.Context, a models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (models.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(models.Actor)
	return a, ok
}
