package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sleep4at/Smart-Home-System/pkg/auth"
)

// ErrTicketInvalid covers every ticket rejection: bad signature, expiry,
// unknown nonce, replay. Callers answer all of them with a 401.
var ErrTicketInvalid = errors.New("invalid stream ticket")

const (
	// DefaultTicketTTL applies when no TTL is configured.
	DefaultTicketTTL = 30 * time.Second
	minTicketTTL     = 5 * time.Second

	ticketKeyPrefix = "stream_ticket:"
)

// TicketStore tracks minted nonces so each stream ticket is consumable
// exactly once across the ticket's lifetime.
type TicketStore interface {
	Save(ctx context.Context, nonce string, ttl time.Duration) error
	// Consume removes the nonce and reports whether it was present and
	// unexpired. The removal is atomic: two concurrent consumers cannot
	// both succeed.
	Consume(ctx context.Context, nonce string) (bool, error)
}

// RedisTicketStore keeps nonces in Redis, which makes tickets usable
// across replicas behind one load balancer.
type RedisTicketStore struct {
	client goredis.UniversalClient
}

func NewRedisTicketStore(client goredis.UniversalClient) *RedisTicketStore {
	return &RedisTicketStore{client: client}
}

func (s *RedisTicketStore) Save(ctx context.Context, nonce string, ttl time.Duration) error {
	return s.client.Set(ctx, ticketKeyPrefix+nonce, "1", ttl).Err()
}

func (s *RedisTicketStore) Consume(ctx context.Context, nonce string) (bool, error) {
	err := s.client.GetDel(ctx, ticketKeyPrefix+nonce).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getdel ticket nonce: %w", err)
	}
	return true, nil
}

// MemoryTicketStore is the single-process fallback used when REDIS_URL is
// not configured.
type MemoryTicketStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time

	now func() time.Time
}

func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryTicketStore) Save(_ context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	// Tickets are short-lived and minted one per stream open, so a full
	// sweep on save keeps the map from accumulating dead nonces.
	for n, expiry := range s.nonces {
		if now.After(expiry) {
			delete(s.nonces, n)
		}
	}
	s.nonces[nonce] = now.Add(ttl)
	return nil
}

func (s *MemoryTicketStore) Consume(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.nonces[nonce]
	if !ok {
		return false, nil
	}
	delete(s.nonces, nonce)
	if s.now().After(expiry) {
		return false, nil
	}
	return true, nil
}

// Tickets mints and consumes the one-shot tokens that gate the SSE stream.
// The token itself is a short-lived HS256 JWT carrying the user id and a
// random nonce; the nonce lives in the store until first consumption.
type Tickets struct {
	store  TicketStore
	secret []byte
	ttl    time.Duration
}

func NewTickets(store TicketStore, secret []byte, ttl time.Duration) *Tickets {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	if ttl < minTicketTTL {
		ttl = minTicketTTL
	}
	return &Tickets{store: store, secret: secret, ttl: ttl}
}

// TTL returns the effective ticket lifetime after clamping.
func (t *Tickets) TTL() time.Duration {
	return t.ttl
}

// Mint issues a fresh ticket for the user and registers its nonce.
func (t *Tickets) Mint(ctx context.Context, userID int64) (string, error) {
	nonce := uuid.NewString()
	token, err := auth.GenerateStreamTicket(userID, nonce, t.ttl, t.secret)
	if err != nil {
		return "", fmt.Errorf("sign stream ticket: %w", err)
	}
	if err := t.store.Save(ctx, nonce, t.ttl); err != nil {
		return "", fmt.Errorf("record ticket nonce: %w", err)
	}
	return token, nil
}

// Consume validates the ticket, burns its nonce, and returns the subscriber
// user id. A second call with the same token returns ErrTicketInvalid.
func (t *Tickets) Consume(ctx context.Context, token string) (int64, error) {
	claims, err := auth.ValidateStreamTicket(token, t.secret)
	if err != nil {
		return 0, ErrTicketInvalid
	}
	ok, err := t.store.Consume(ctx, claims.Nonce)
	if err != nil {
		return 0, fmt.Errorf("consume ticket nonce: %w", err)
	}
	if !ok {
		return 0, ErrTicketInvalid
	}
	return claims.UserID, nil
}
