package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

// Auth constants.
const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// defaultTokenTTLMinutes is the JWT lifetime used when the config leaves
	// access_token_ttl unset.
	defaultTokenTTLMinutes = 15
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue creates a new ticket and records its expiry.
func (ts *ticketStore) issue() string {
	ticket := generateTicket()

	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{expiresAt: time.Now().Add(ticketTTL)}
	ts.mu.Unlock()

	return ticket
}

// consume checks if a ticket is valid and removes it (single-use).
func (ts *ticketStore) consume(ticket string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return false
	}

	// Remove ticket (single-use)
	delete(ts.tickets, ticket)

	// Check expiry
	return time.Now().Before(entry.expiresAt)
}

// cleanExpired removes expired tickets from the store.
func (ts *ticketStore) cleanExpired() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	for ticket, entry := range ts.tickets {
		if now.After(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// handleLogin authenticates the configured operator and returns a JWT token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	op := s.secCfg.Operator
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(op.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(op.Password)) == 1
	if op.Password == "" || !userOK || !passOK {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	// Generate JWT
	ttl := s.secCfg.JWT.AccessTokenTTL
	if ttl == 0 {
		ttl = defaultTokenTTLMinutes
	}

	claims := jwt.MapClaims{
		"sub":  req.Username,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Duration(ttl) * time.Minute).Unix(),
		"role": "operator",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secCfg.JWT.Secret))
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   ttl * 60, // seconds
	})
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket := s.tickets.issue()

	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // subject is informational
	s.logger.Debug("websocket ticket issued", "subject", subject)

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop runs cleanExpired periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.cleanExpired()
		}
	}
}
