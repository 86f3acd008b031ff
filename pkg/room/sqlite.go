package room

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
)

// SQLiteStore is the single-node Store for local deployments. Message
// embeddings are stored as JSON and similarity is ranked in-process,
// which is fine at single-room conversation sizes.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the store at the given path.
// The caller must import a database/sql sqlite driver named "sqlite".
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open room db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping room db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("sqlite room store opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id             TEXT PRIMARY KEY,
			email          TEXT UNIQUE,
			password_hash  TEXT NOT NULL DEFAULT '',
			wallet_address TEXT UNIQUE,
			name           TEXT NOT NULL DEFAULT '',
			auth_type      TEXT NOT NULL,
			created_at     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id             TEXT PRIMARY KEY,
			owner_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title          TEXT NOT NULL,
			is_active      INTEGER NOT NULL DEFAULT 1,
			channel_key    TEXT UNIQUE,
			ctx_summary    TEXT NOT NULL DEFAULT '',
			ctx_keywords   TEXT NOT NULL DEFAULT '[]',
			ctx_prefs      TEXT NOT NULL DEFAULT '{}',
			ctx_style      TEXT NOT NULL DEFAULT 'friendly',
			ctx_updated_at TEXT,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			room_id    TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			sender_id  TEXT NOT NULL DEFAULT '',
			embedding  TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages (room_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init room schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseStoredTime handles the formats different writers may have used.
func parseStoredTime(v string) time.Time {
	for _, f := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(f, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (s *SQLiteStore) CreateRoom(ctx context.Context, r *Room) error {
	keywords, err := json.Marshal(r.Context.Keywords)
	if err != nil {
		return fmt.Errorf("marshal context keywords: %w", err)
	}
	prefs, err := json.Marshal(r.Context.UserPreferences)
	if err != nil {
		return fmt.Errorf("marshal context prefs: %w", err)
	}
	var channelKey any
	if r.ChannelKey != "" {
		channelKey = r.ChannelKey
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, owner_id, title, is_active, channel_key,
			ctx_summary, ctx_keywords, ctx_prefs, ctx_style, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.OwnerID, r.Title, boolToInt(r.IsActive), channelKey,
		r.Context.Summary, string(keywords), string(prefs), r.Context.ConversationStyle,
		fmtTime(r.CreatedAt), fmtTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

const sqliteRoomColumns = `id, owner_id, title, is_active, COALESCE(channel_key, ''),
	ctx_summary, ctx_keywords, ctx_prefs, ctx_style, ctx_updated_at, created_at, updated_at`

func scanSQLiteRoom(row interface{ Scan(...any) error }) (*Room, error) {
	var r Room
	var isActive int
	var keywords, prefs string
	var ctxUpdated sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.OwnerID, &r.Title, &isActive, &r.ChannelKey,
		&r.Context.Summary, &keywords, &prefs, &r.Context.ConversationStyle,
		&ctxUpdated, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.IsActive = isActive != 0
	if err := json.Unmarshal([]byte(keywords), &r.Context.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshal context keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &r.Context.UserPreferences); err != nil {
		return nil, fmt.Errorf("unmarshal context prefs: %w", err)
	}
	if r.Context.Keywords == nil {
		r.Context.Keywords = []string{}
	}
	if ctxUpdated.Valid {
		r.Context.UpdatedAt = parseStoredTime(ctxUpdated.String)
	}
	r.CreatedAt = parseStoredTime(createdAt)
	r.UpdatedAt = parseStoredTime(updatedAt)
	return &r, nil
}

func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRoomColumns+` FROM rooms WHERE id = ?`, id)
	r, err := scanSQLiteRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) RoomByChannelKey(ctx context.Context, key string) (*Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRoomColumns+` FROM rooms WHERE channel_key = ?`, key)
	r, err := scanSQLiteRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room by channel key: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRooms(ctx context.Context, ownerID string) ([]*Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRoomColumns+` FROM rooms WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var result []*Room
	for rows.Next() {
		r, err := scanSQLiteRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, id string) error {
	// ON DELETE CASCADE needs foreign_keys(1), set in the DSN; delete
	// messages explicitly anyway so behavior doesn't hinge on a pragma.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, id); err != nil {
		return fmt.Errorf("delete room messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendMessages(ctx context.Context, roomID string, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		var emb any
		if m.Embedding != nil {
			b, err := json.Marshal(m.Embedding)
			if err != nil {
				return fmt.Errorf("marshal embedding: %w", err)
			}
			emb = string(b)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, room_id, role, content, sender_id, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, m.ID, roomID, m.Role, m.Content, m.SenderID, emb, fmtTime(m.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE rooms SET updated_at = ? WHERE id = ?`,
		fmtTime(time.Now()), roomID)
	if err != nil {
		return fmt.Errorf("touch room %s: %w", roomID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, roomID string, limit int, order Order) ([]*Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, role, content, sender_id, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY rowid DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if order == OldestFirst {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

func scanSQLiteMessage(rows *sql.Rows) (*Message, error) {
	var m Message
	var createdAt string
	if err := rows.Scan(&m.ID, &m.RoomID, &m.Role, &m.Content, &m.SenderID, &createdAt); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.CreatedAt = parseStoredTime(createdAt)
	return &m, nil
}

func (s *SQLiteStore) CountMessages(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE room_id = ?`, roomID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ReplaceContext(ctx context.Context, roomID string, rc Context) error {
	keywords, err := json.Marshal(rc.Keywords)
	if err != nil {
		return fmt.Errorf("marshal context keywords: %w", err)
	}
	prefs, err := json.Marshal(rc.UserPreferences)
	if err != nil {
		return fmt.Errorf("marshal context prefs: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET
			ctx_summary = ?, ctx_keywords = ?, ctx_prefs = ?,
			ctx_style = ?, ctx_updated_at = ?, updated_at = ?
		WHERE id = ?
	`, rc.Summary, string(keywords), string(prefs), rc.ConversationStyle,
		fmtTime(rc.UpdatedAt), fmtTime(time.Now()), roomID)
	if err != nil {
		return fmt.Errorf("replace context %s: %w", roomID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) MessagesWithoutEmbedding(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, role, content, sender_id, created_at
		FROM messages
		WHERE embedding IS NULL
		ORDER BY rowid ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("messages without embedding: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) AttachEmbedding(ctx context.Context, messageID string, embedding []float32) error {
	b, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET embedding = ? WHERE id = ?`, string(b), messageID)
	if err != nil {
		return fmt.Errorf("attach embedding %s: %w", messageID, err)
	}
	return nil
}

// SimilarMessages loads every embedded message in the room and ranks by
// cosine similarity in-process. Acceptable for the conversation sizes a
// single-node deployment sees; the Postgres store does this in the DB.
func (s *SQLiteStore) SimilarMessages(ctx context.Context, roomID string, embedding []float32, k int) ([]SimilarMessage, error) {
	if k <= 0 {
		k = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, role, content, sender_id, embedding, created_at
		FROM messages
		WHERE room_id = ? AND embedding IS NOT NULL
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("similar messages: %w", err)
	}
	defer rows.Close()

	var result []SimilarMessage
	for rows.Next() {
		var sm SimilarMessage
		var emb, createdAt string
		if err := rows.Scan(&sm.ID, &sm.RoomID, &sm.Role, &sm.Content, &sm.SenderID, &emb, &createdAt); err != nil {
			return nil, fmt.Errorf("scan similar message: %w", err)
		}
		sm.CreatedAt = parseStoredTime(createdAt)
		var vec []float32
		if err := json.Unmarshal([]byte(emb), &vec); err != nil {
			continue // unreadable embedding, skip the candidate
		}
		sm.Score = cosineSimilarity(embedding, vec)
		result = append(result, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > k {
		result = result[:k]
	}
	return result, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	var email, wallet any
	if u.Email != "" {
		email = u.Email
	}
	if u.WalletAddress != "" {
		wallet = u.WalletAddress
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, wallet_address, name, auth_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, email, u.PasswordHash, wallet, u.Name, u.AuthType, fmtTime(u.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const sqliteUserColumns = `id, COALESCE(email, ''), password_hash, COALESCE(wallet_address, ''), name, auth_type, created_at`

func scanSQLiteUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.WalletAddress, &u.Name, &u.AuthType, &createdAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseStoredTime(createdAt)
	return &u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) UserByWallet(ctx context.Context, address string) (*User, error) {
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE wallet_address = ?`, address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by wallet: %w", err)
	}
	return u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
