package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/acnewman/deskbridge/pkg/crypto"
	apperrors "github.com/acnewman/deskbridge/pkg/errors"
)

const (
	// DefaultPendingTTL bounds how long a rendered login page stays valid.
	DefaultPendingTTL = 10 * time.Minute
	// DefaultCodeTTL bounds the redemption window for an issued code. It is
	// deliberately much shorter than the login page window.
	DefaultCodeTTL = 2 * time.Minute

	// codeTokenBytes yields 192 bits of entropy per authorization code.
	codeTokenBytes = 24
)

// PendingLogin records a desktop-initiated login awaiting browser credentials.
type PendingLogin struct {
	State         string
	RedirectURI   string
	CodeChallenge string
	CreatedAt     time.Time
}

// AuthCode is a one-time artifact binding a browser login success to a
// desktop token request. Once Used it can never satisfy another exchange.
type AuthCode struct {
	Code          string
	UserID        uint
	State         string
	CodeChallenge string
	CreatedAt     time.Time
	Used          bool
}

// HandshakeConfig tunes the store's TTLs and time source.
type HandshakeConfig struct {
	PendingTTL time.Duration
	CodeTTL    time.Duration
	Clock      func() time.Time
}

// HandshakeStore owns the ephemeral one-time-use artifacts of the desktop
// login handshake. State is held in process memory; loss on restart is
// acceptable because the desktop client simply restarts the flow.
//
// All read-modify-write sequences run under a single mutex so concurrent
// exchanges of the same code have at most one winner.
type HandshakeStore struct {
	mu         sync.Mutex
	pending    map[string]PendingLogin
	codes      map[string]*AuthCode
	pendingTTL time.Duration
	codeTTL    time.Duration
	now        func() time.Time
}

// NewHandshakeStore constructs an empty store. The zero config selects the
// default TTLs and wall-clock time.
func NewHandshakeStore(cfg HandshakeConfig) *HandshakeStore {
	pendingTTL := cfg.PendingTTL
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}

	codeTTL := cfg.CodeTTL
	if codeTTL <= 0 {
		codeTTL = DefaultCodeTTL
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &HandshakeStore{
		pending:    make(map[string]PendingLogin),
		codes:      make(map[string]*AuthCode),
		pendingTTL: pendingTTL,
		codeTTL:    codeTTL,
		now:        now,
	}
}

// RegisterPending records (or silently replaces) the pending login for the
// given state. Replacement is intentional: a reloaded login page re-registers
// the same state and the last registration wins.
func (s *HandshakeStore) RegisterPending(state, redirectURI, codeChallenge string) {
	state = strings.TrimSpace(state)
	if state == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	s.pending[state] = PendingLogin{
		State:         state,
		RedirectURI:   redirectURI,
		CodeChallenge: codeChallenge,
		CreatedAt:     s.now(),
	}
}

// GetPending returns the live pending login for state, if any.
func (s *HandshakeStore) GetPending(state string) (PendingLogin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	entry, ok := s.pending[state]
	return entry, ok
}

// IssueCode mints a one-time authorization code bound to the pending login's
// challenge. The pending entry is not consumed; only codes are single-use.
func (s *HandshakeStore) IssueCode(state string, userID uint) (AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	pending, ok := s.pending[state]
	if !ok {
		return AuthCode{}, apperrors.ErrUnknownState
	}

	code, err := crypto.GenerateToken(codeTokenBytes)
	if err != nil {
		return AuthCode{}, fmt.Errorf("handshake: generate code: %w", err)
	}

	authCode := &AuthCode{
		Code:          code,
		UserID:        userID,
		State:         state,
		CodeChallenge: pending.CodeChallenge,
		CreatedAt:     s.now(),
	}
	s.codes[code] = authCode

	return *authCode, nil
}

// ExchangeCode redeems a one-time code against its PKCE verifier and returns
// the bound user id. The code is marked used before the method returns, so a
// concurrent or repeated exchange of the same code always fails. A PKCE
// mismatch does not consume the code.
func (s *HandshakeStore) ExchangeCode(code, codeVerifier string) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	authCode, ok := s.codes[code]
	if !ok || authCode.Used {
		return 0, apperrors.ErrInvalidOrExpiredCode
	}

	if !VerifyChallenge(authCode.CodeChallenge, codeVerifier) {
		return 0, apperrors.ErrPKCEVerificationFailed
	}

	authCode.Used = true
	return authCode.UserID, nil
}

// purgeLocked drops entries past their TTL and codes that were consumed.
// Expiry is enforced lazily here, on every store access; there is no
// background sweeper.
func (s *HandshakeStore) purgeLocked() {
	now := s.now()

	for state, entry := range s.pending {
		if now.Sub(entry.CreatedAt) >= s.pendingTTL {
			delete(s.pending, state)
		}
	}

	for code, entry := range s.codes {
		if entry.Used || now.Sub(entry.CreatedAt) >= s.codeTTL {
			delete(s.codes, code)
		}
	}
}
