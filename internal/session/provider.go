// Package session signs users in and out and tells interested clients when
// that happens.
//
// A session is a JWT whose jti names a Redis key. The key carries the
// session's TTL; deleting it revokes the token before it expires.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chxlky/taskboard/internal/events"
	"github.com/chxlky/taskboard/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken = errors.New("invalid or expired session")
	ErrMissingToken = errors.New("session token required")
)

// Session is the signed-in state of one user on one client.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

const (
	ChangeSignedIn       = "signed_in"
	ChangeSignedOut      = "signed_out"
	ChangeProfileUpdated = "profile_updated"
)

// Change is published whenever a user's session state changes.
type Change struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}

// Provider issues, validates and revokes sessions.
type Provider struct {
	rdb    *redis.Client
	bus    *events.Bus
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewProvider(rdb *redis.Client, secret string, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Provider{
		rdb:    rdb,
		bus:    events.NewBus(rdb),
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func sessionKey(id string) string {
	return "session:" + id
}

func userChannel(userID string) string {
	return "session:" + userID
}

// Issue starts a session for user and returns its signed token.
func (p *Provider) Issue(ctx context.Context, user *models.User) (string, *Session, error) {
	now := p.now()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Email:     user.Email,
		IssuedAt:  now,
		ExpiresAt: now.Add(p.ttl),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		UserID: s.UserID,
		Email:  s.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			NotBefore: jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	})
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := p.rdb.Set(ctx, sessionKey(s.ID), data, p.ttl).Err(); err != nil {
		return "", nil, fmt.Errorf("failed to store session: %w", err)
	}

	p.publish(ctx, Change{Type: ChangeSignedIn, UserID: s.UserID, SessionID: s.ID, At: now})
	return signed, s, nil
}

// Validate checks the token signature and that its session was not revoked.
func (p *Provider) Validate(ctx context.Context, tokenString string) (*Session, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.ID == "" {
		return nil, ErrInvalidToken
	}

	data, err := p.rdb.Get(ctx, sessionKey(c.ID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if s.UserID != c.UserID {
		return nil, ErrInvalidToken
	}
	return &s, nil
}

// Revoke ends the session. Revoking an already revoked session is a no-op.
func (p *Provider) Revoke(ctx context.Context, s *Session) error {
	n, err := p.rdb.Del(ctx, sessionKey(s.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if n > 0 {
		p.publish(ctx, Change{Type: ChangeSignedOut, UserID: s.UserID, SessionID: s.ID, At: p.now()})
	}
	return nil
}

// ProfileUpdated tells the user's clients to refetch the profile.
func (p *Provider) ProfileUpdated(ctx context.Context, userID string) {
	p.publish(ctx, Change{Type: ChangeProfileUpdated, UserID: userID, At: p.now()})
}

func (p *Provider) publish(ctx context.Context, c Change) {
	if err := p.bus.Publish(ctx, userChannel(c.UserID), c); err != nil {
		zap.L().Warn("Failed to publish session change", zap.String("user_id", c.UserID), zap.String("type", c.Type), zap.Error(err))
	}
}

// Subscription streams the session changes of one user until closed.
type Subscription struct {
	C <-chan Change

	sub  *events.Subscription
	done chan struct{}
	once sync.Once
}

// Subscribe registers for the changes of userID. The caller must Close the
// subscription; it is also released when ctx is done.
func (p *Provider) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := p.bus.Subscribe(ctx, userChannel(userID))
	if err != nil {
		return nil, err
	}

	out := make(chan Change, 8)
	s := &Subscription{C: out, sub: sub, done: make(chan struct{})}
	go func() {
		defer close(out)
		for data := range sub.C {
			var c Change
			if err := json.Unmarshal(data, &c); err != nil {
				zap.L().Warn("Dropping malformed session change", zap.Error(err))
				continue
			}
			select {
			case out <- c:
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}

// Close is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.sub.Close()
	})
}

type contextKey struct{}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
