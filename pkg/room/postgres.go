package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PostgresStore is the pgx/pgvector-backed Store. Message embeddings
// live in a vector column so similarity search runs in the database.
type PostgresStore struct {
	pool *pgxpool.Pool
	dims int
}

// NewPostgresStore connects to Postgres and verifies the connection.
// dims is the embedding dimensionality used for the vector column.
func NewPostgresStore(ctx context.Context, pgURL string, dims int) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}

	// Register pgvector types on each new connection
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if dims <= 0 {
		dims = 1536
	}
	return &PostgresStore{pool: pool, dims: dims}, nil
}

// Init creates the pgvector extension, tables, and indexes if missing.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id             TEXT PRIMARY KEY,
			email          TEXT UNIQUE,
			password_hash  TEXT NOT NULL DEFAULT '',
			wallet_address TEXT UNIQUE,
			name           TEXT NOT NULL DEFAULT '',
			auth_type      TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			id             TEXT PRIMARY KEY,
			owner_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title          TEXT NOT NULL,
			is_active      BOOLEAN NOT NULL DEFAULT TRUE,
			channel_key    TEXT UNIQUE,
			ctx_summary    TEXT NOT NULL DEFAULT '',
			ctx_keywords   TEXT[] NOT NULL DEFAULT '{}',
			ctx_prefs      JSONB NOT NULL DEFAULT '{}',
			ctx_style      TEXT NOT NULL DEFAULT 'friendly',
			ctx_updated_at TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create rooms table: %w", err)
	}

	// seq gives a total append order per room independent of clock skew.
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			room_id    TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			seq        BIGSERIAL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			sender_id  TEXT NOT NULL DEFAULT '',
			embedding  vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, s.dims))
	if err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_messages_room_seq ON messages (room_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("create message index: %w", err)
	}

	// HNSW index for cosine similarity over message embeddings
	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_messages_embedding_hnsw
		ON messages
		USING hnsw (embedding vector_cosine_ops)
		WITH (m = 16, ef_construction = 64)
	`)
	if err != nil {
		return fmt.Errorf("create HNSW index: %w", err)
	}

	slog.Info("postgres room store initialized", "dims", s.dims)
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRoom(ctx context.Context, r *Room) error {
	prefs, err := json.Marshal(r.Context.UserPreferences)
	if err != nil {
		return fmt.Errorf("marshal context prefs: %w", err)
	}
	var channelKey *string
	if r.ChannelKey != "" {
		channelKey = &r.ChannelKey
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rooms (id, owner_id, title, is_active, channel_key,
			ctx_summary, ctx_keywords, ctx_prefs, ctx_style, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, r.ID, r.OwnerID, r.Title, r.IsActive, channelKey,
		r.Context.Summary, r.Context.Keywords, prefs, r.Context.ConversationStyle,
		r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

const roomColumns = `id, owner_id, title, is_active, COALESCE(channel_key, ''),
	ctx_summary, ctx_keywords, ctx_prefs, ctx_style, ctx_updated_at, created_at, updated_at`

func (s *PostgresStore) scanRoom(row pgx.Row) (*Room, error) {
	var r Room
	var prefs []byte
	var ctxUpdated *time.Time
	err := row.Scan(&r.ID, &r.OwnerID, &r.Title, &r.IsActive, &r.ChannelKey,
		&r.Context.Summary, &r.Context.Keywords, &prefs, &r.Context.ConversationStyle,
		&ctxUpdated, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ctxUpdated != nil {
		r.Context.UpdatedAt = *ctxUpdated
	}
	if err := json.Unmarshal(prefs, &r.Context.UserPreferences); err != nil {
		return nil, fmt.Errorf("unmarshal context prefs: %w", err)
	}
	if r.Context.Keywords == nil {
		r.Context.Keywords = []string{}
	}
	return &r, nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)
	r, err := s.scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) RoomByChannelKey(ctx context.Context, key string) (*Room, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE channel_key = $1`, key)
	r, err := s.scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room by channel key: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context, ownerID string) ([]*Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var result []*Room
	for rows.Next() {
		r, err := s.scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessages inserts the batch inside a single transaction so the
// pair is all-or-nothing and seq values preserve slice order.
func (s *PostgresStore) AppendMessages(ctx context.Context, roomID string, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range msgs {
		var emb any
		if m.Embedding != nil {
			emb = pgvector.NewVector(m.Embedding)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO messages (id, room_id, role, content, sender_id, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, m.ID, roomID, m.Role, m.Content, m.SenderID, emb, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}

	_, err = tx.Exec(ctx, `UPDATE rooms SET updated_at = now() WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("touch room %s: %w", roomID, err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) RecentMessages(ctx context.Context, roomID string, limit int, order Order) ([]*Message, error) {
	if limit <= 0 {
		limit = 10
	}
	// Always pick the most recent window, then flip for OldestFirst.
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, role, content, sender_id, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Role, &m.Content, &m.SenderID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
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

func (s *PostgresStore) CountMessages(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE room_id = $1`, roomID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ReplaceContext(ctx context.Context, roomID string, rc Context) error {
	prefs, err := json.Marshal(rc.UserPreferences)
	if err != nil {
		return fmt.Errorf("marshal context prefs: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE rooms SET
			ctx_summary = $2,
			ctx_keywords = $3,
			ctx_prefs = $4,
			ctx_style = $5,
			ctx_updated_at = $6,
			updated_at = now()
		WHERE id = $1
	`, roomID, rc.Summary, rc.Keywords, prefs, rc.ConversationStyle, rc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("replace context %s: %w", roomID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MessagesWithoutEmbedding(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, role, content, sender_id, created_at
		FROM messages
		WHERE embedding IS NULL
		ORDER BY seq ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("messages without embedding: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Role, &m.Content, &m.SenderID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) AttachEmbedding(ctx context.Context, messageID string, embedding []float32) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE messages SET embedding = $2 WHERE id = $1`,
		messageID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("attach embedding %s: %w", messageID, err)
	}
	return nil
}

// SimilarMessages runs a cosine nearest-neighbor search scoped to one
// room. NULL embeddings are excluded by the operator predicate, not
// scored as zero.
func (s *PostgresStore) SimilarMessages(ctx context.Context, roomID string, embedding []float32, k int) ([]SimilarMessage, error) {
	if k <= 0 {
		k = 5
	}
	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, role, content, sender_id, created_at,
		       embedding <=> $2 AS distance
		FROM messages
		WHERE room_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2 ASC, created_at DESC
		LIMIT $3
	`, roomID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("similar messages: %w", err)
	}
	defer rows.Close()

	var result []SimilarMessage
	for rows.Next() {
		var sm SimilarMessage
		var distance float64
		if err := rows.Scan(&sm.ID, &sm.RoomID, &sm.Role, &sm.Content, &sm.SenderID, &sm.CreatedAt, &distance); err != nil {
			return nil, fmt.Errorf("scan similar message: %w", err)
		}
		sm.Score = 1 - distance
		result = append(result, sm)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	var email, wallet *string
	if u.Email != "" {
		email = &u.Email
	}
	if u.WalletAddress != "" {
		wallet = &u.WalletAddress
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, wallet_address, name, auth_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, email, u.PasswordHash, wallet, u.Name, u.AuthType, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, COALESCE(email, ''), password_hash, COALESCE(wallet_address, ''), name, auth_type, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.WalletAddress, &u.Name, &u.AuthType, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) UserByWallet(ctx context.Context, address string) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by wallet: %w", err)
	}
	return u, nil
}
