package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/suimate-labs/suimate/internal/auth"
	"github.com/suimate-labs/suimate/pkg/room"
)

type ctxKey int

const userIDKey ctxKey = 0

// userID returns the authenticated user ID from a request context.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// API view structs. Domain types carry no serialization concerns; the
// HTTP layer owns its wire shapes.

type userView struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	Name          string `json:"name"`
	AuthType      string `json:"auth_type"`
}

type contextView struct {
	Summary           string            `json:"summary"`
	Keywords          []string          `json:"keywords"`
	UserPreferences   map[string]string `json:"user_preferences"`
	ConversationStyle string            `json:"conversation_style"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type roomView struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	IsActive  bool        `json:"is_active"`
	Context   contextView `json:"context"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type messageView struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func viewUser(u *room.User) userView {
	return userView{ID: u.ID, Email: u.Email, WalletAddress: u.WalletAddress, Name: u.Name, AuthType: u.AuthType}
}

func viewRoom(r *room.Room) roomView {
	return roomView{
		ID:       r.ID,
		Title:    r.Title,
		IsActive: r.IsActive,
		Context: contextView{
			Summary:           r.Context.Summary,
			Keywords:          r.Context.Keywords,
			UserPreferences:   r.Context.UserPreferences,
			ConversationStyle: r.Context.ConversationStyle,
			UpdatedAt:         r.Context.UpdatedAt,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func viewMessage(m *room.Message) messageView {
	return messageView{ID: m.ID, RoomID: m.RoomID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
}

// routes builds the API mux.
func (d *Daemon) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", d.handleHealth)
	mux.HandleFunc("POST /v1/auth/register", d.handleRegister)
	mux.HandleFunc("POST /v1/auth/login", d.handleLogin)
	mux.HandleFunc("POST /v1/auth/wallet", d.handleWalletLogin)
	mux.Handle("POST /v1/rooms", d.requireAuth(d.handleCreateRoom))
	mux.Handle("GET /v1/rooms", d.requireAuth(d.handleListRooms))
	mux.Handle("GET /v1/rooms/{id}", d.requireAuth(d.handleGetRoom))
	mux.Handle("POST /v1/rooms/{id}/messages", d.requireAuth(d.handleSendMessage))
	mux.Handle("GET /v1/events", d.requireAuth(d.handleEvents))
	return mux
}

// requireAuth validates the bearer token and stores the user ID on the
// request context.
func (d *Daemon) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		uid, err := d.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, uid)))
	})
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"name":   d.cfg.Name,
	})
}

func (d *Daemon) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u, err := d.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, room.ErrUserExists) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		serverError(w, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": viewUser(u)})
}

func (d *Daemon) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, token, err := d.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		serverError(w, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": viewUser(u), "token": token})
}

func (d *Daemon) handleWalletLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	u, token, err := d.auth.LoginWithWallet(r.Context(), req.Address)
	if err != nil {
		serverError(w, "wallet login", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": viewUser(u), "token": token})
}

func (d *Daemon) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == "" {
		req.Title = "New conversation"
	}

	now := time.Now().UTC()
	rm := &room.Room{
		ID:        uuid.NewString(),
		OwnerID:   userID(r.Context()),
		Title:     req.Title,
		IsActive:  true,
		Context:   room.NewContext(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.CreateRoom(r.Context(), rm); err != nil {
		serverError(w, "create room", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewRoom(rm))
}

func (d *Daemon) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := d.store.ListRooms(r.Context(), userID(r.Context()))
	if err != nil {
		serverError(w, "list rooms", err)
		return
	}
	views := make([]roomView, len(rooms))
	for i, rm := range rooms {
		views[i] = viewRoom(rm)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": views})
}

func (d *Daemon) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	rm, ok := d.ownedRoom(w, r)
	if !ok {
		return
	}

	msgs, err := d.store.RecentMessages(r.Context(), rm.ID, 50, room.OldestFirst)
	if err != nil {
		serverError(w, "load messages", err)
		return
	}
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = viewMessage(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": viewRoom(rm), "messages": views})
}

func (d *Daemon) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	rm, ok := d.ownedRoom(w, r)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
		Wallet  string `json:"wallet"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	uid := userID(r.Context())
	reply, err := d.pipeline.HandleMessage(r.Context(), rm.ID, req.Wallet, uid, req.Content)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		serverError(w, "handle message", err)
		return
	}

	d.bus.Publish(Event{Type: EventChat, Room: rm.ID, Role: room.RoleUser, Content: req.Content})
	d.bus.Publish(Event{Type: EventChat, Room: rm.ID, Role: room.RoleAssistant, Content: reply.Content})
	writeJSON(w, http.StatusOK, viewMessage(reply))
}

// handleEvents streams the event bus over SSE, hydrating the connection
// with recent events first.
func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Backlog and subscription come from one critical section, so no
	// event is replayed and then delivered live again.
	backlog, events, done := d.bus.SubscribeWithReplay(50)
	defer d.bus.Unsubscribe(done)

	for _, e := range backlog {
		fmt.Fprintf(w, "data: %s\n\n", e.MarshalEvent())
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", e.MarshalEvent())
			flusher.Flush()
		}
	}
}

// ownedRoom loads the path room and checks the caller owns it. A room
// owned by someone else reads as not found.
func (d *Daemon) ownedRoom(w http.ResponseWriter, r *http.Request) (*room.Room, bool) {
	rm, err := d.store.GetRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return nil, false
		}
		serverError(w, "load room", err)
		return nil, false
	}
	if rm.OwnerID != userID(r.Context()) {
		writeError(w, http.StatusNotFound, "room not found")
		return nil, false
	}
	return rm, true
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func serverError(w http.ResponseWriter, op string, err error) {
	slog.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
