// Package auth issues sessions for password and wallet-based login.
// Tokens are opaque HMAC-signed strings with an embedded expiry; no
// session state is kept server-side.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/suimate-labs/suimate/pkg/room"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password
	// alike, so login failures don't reveal which one it was.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken means the token is malformed, tampered with, or
	// expired.
	ErrInvalidToken = errors.New("invalid token")
)

const defaultTokenTTL = 24 * time.Hour

// Service handles registration, login, and session tokens.
type Service struct {
	store  room.Store
	secret []byte
	ttl    time.Duration

	now func() time.Time
}

// NewService creates an auth service. A zero ttl defaults to 24h.
func NewService(store room.Store, secret []byte, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Service{
		store:  store,
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Register creates a password-backed user. Returns room.ErrUserExists
// when the email is taken.
func (s *Service) Register(ctx context.Context, email, password, name string) (*room.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &room.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		AuthType:     "password",
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Login checks email/password and returns the user with a session token.
func (s *Service) Login(ctx context.Context, email, password string) (*room.User, string, error) {
	u, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, room.ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}
	return u, s.IssueToken(u.ID), nil
}

// LoginWithWallet logs a user in by wallet address, creating the account
// on first sight with a generated display name.
func (s *Service) LoginWithWallet(ctx context.Context, address string) (*room.User, string, error) {
	u, err := s.store.UserByWallet(ctx, address)
	switch {
	case err == nil:
	case errors.Is(err, room.ErrUserNotFound):
		u = &room.User{
			ID:            uuid.NewString(),
			WalletAddress: address,
			Name:          walletDisplayName(address),
			AuthType:      "wallet",
			CreatedAt:     s.now().UTC(),
		}
		if err := s.store.CreateUser(ctx, u); err != nil {
			return nil, "", fmt.Errorf("provision wallet user: %w", err)
		}
	default:
		return nil, "", fmt.Errorf("look up wallet user: %w", err)
	}
	return u, s.IssueToken(u.ID), nil
}

// walletDisplayName shortens an address into a readable default name.
func walletDisplayName(address string) string {
	if len(address) <= 10 {
		return "User " + address
	}
	return fmt.Sprintf("User %s...%s", address[:6], address[len(address)-4:])
}

// IssueToken signs a session token for the user, valid for the
// configured TTL.
func (s *Service) IssueToken(userID string) string {
	expiry := strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)
	payload := userID + "|" + expiry
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + s.sign(payload)
}

// VerifyToken returns the user ID carried by a valid, unexpired token.
func (s *Service) VerifyToken(token string) (string, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidToken
	}
	payload := string(raw)
	if !hmac.Equal([]byte(sig), []byte(s.sign(payload))) {
		return "", ErrInvalidToken
	}

	userID, expiryStr, ok := strings.Cut(payload, "|")
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil || s.now().Unix() >= expiry {
		return "", ErrInvalidToken
	}
	return userID, nil
}

func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
