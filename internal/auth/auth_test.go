package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/suimate-labs/suimate/pkg/room"
)

// userStore is an in-memory user-only room.Store.
type userStore struct {
	room.Store

	byID     map[string]*room.User
	byEmail  map[string]*room.User
	byWallet map[string]*room.User
}

func newUserStore() *userStore {
	return &userStore{
		byID:     map[string]*room.User{},
		byEmail:  map[string]*room.User{},
		byWallet: map[string]*room.User{},
	}
}

func (s *userStore) CreateUser(ctx context.Context, u *room.User) error {
	if u.Email != "" {
		if _, ok := s.byEmail[u.Email]; ok {
			return room.ErrUserExists
		}
		s.byEmail[u.Email] = u
	}
	if u.WalletAddress != "" {
		if _, ok := s.byWallet[u.WalletAddress]; ok {
			return room.ErrUserExists
		}
		s.byWallet[u.WalletAddress] = u
	}
	s.byID[u.ID] = u
	return nil
}

func (s *userStore) GetUser(ctx context.Context, id string) (*room.User, error) {
	if u, ok := s.byID[id]; ok {
		return u, nil
	}
	return nil, room.ErrUserNotFound
}

func (s *userStore) UserByEmail(ctx context.Context, email string) (*room.User, error) {
	if u, ok := s.byEmail[email]; ok {
		return u, nil
	}
	return nil, room.ErrUserNotFound
}

func (s *userStore) UserByWallet(ctx context.Context, address string) (*room.User, error) {
	if u, ok := s.byWallet[address]; ok {
		return u, nil
	}
	return nil, room.ErrUserNotFound
}

func testService() (*Service, *userStore) {
	store := newUserStore()
	return NewService(store, []byte("test-secret"), time.Hour), store
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	u, err := svc.Register(ctx, "a@b.c", "hunter22", "Alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.PasswordHash == "hunter22" || u.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}

	logged, token, err := svc.Login(ctx, "a@b.c", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if logged.ID != u.ID || token == "" {
		t.Errorf("unexpected login result: %v %q", logged.ID, token)
	}

	userID, err := svc.VerifyToken(token)
	if err != nil || userID != u.ID {
		t.Errorf("VerifyToken = %q, %v; want %q", userID, err, u.ID)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a@b.c", "correct", "Alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, _, err := svc.Login(ctx, "a@b.c", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@b.c", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a@b.c", "pw", "Alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "a@b.c", "pw2", "Other"); !errors.Is(err, room.ErrUserExists) {
		t.Errorf("duplicate register err = %v, want ErrUserExists", err)
	}
}

func TestLoginWithWalletProvisions(t *testing.T) {
	svc, store := testService()
	ctx := context.Background()
	addr := "0xabcdef1234567890abcdef1234567890abcdwxyz"

	u, token, err := svc.LoginWithWallet(ctx, addr)
	if err != nil {
		t.Fatalf("LoginWithWallet: %v", err)
	}
	if u.Name != "User 0xabcd...wxyz" {
		t.Errorf("generated name = %q", u.Name)
	}
	if u.AuthType != "wallet" || token == "" {
		t.Errorf("unexpected provisioned user: %+v", u)
	}

	// Second login finds the same user instead of provisioning again.
	again, _, err := svc.LoginWithWallet(ctx, addr)
	if err != nil {
		t.Fatalf("second LoginWithWallet: %v", err)
	}
	if again.ID != u.ID {
		t.Error("wallet login must reuse the provisioned user")
	}
	if len(store.byID) != 1 {
		t.Errorf("have %d users, want 1", len(store.byID))
	}
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	svc, _ := testService()
	token := svc.IssueToken("user-1")

	if _, err := svc.VerifyToken(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Error("tampered signature must be rejected")
	}
	if _, err := svc.VerifyToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Error("malformed token must be rejected")
	}

	other := NewService(newUserStore(), []byte("other-secret"), time.Hour)
	if _, err := other.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Error("token signed with another secret must be rejected")
	}
}

func TestVerifyTokenExpiry(t *testing.T) {
	svc, _ := testService()
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	token := svc.IssueToken("user-1")

	if _, err := svc.VerifyToken(token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	svc.now = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }
	if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Error("expired token must be rejected")
	}
}
