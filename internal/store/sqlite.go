package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		avatar TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'offline',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_status ON users(status);

	CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		last_message_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_participants (
		room_id TEXT NOT NULL REFERENCES rooms(room_id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS room_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL REFERENCES rooms(room_id) ON DELETE CASCADE,
		message_id TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_room_messages_room ON room_messages(room_id, seq);

	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		receiver_id TEXT,
		room_id TEXT,
		body TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		read_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at) WHERE room_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, created_at) WHERE receiver_id IS NOT NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const userColumns = `user_id, username, avatar, status, last_seen_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	var status string
	var lastSeen, createdAt, updatedAt int64

	if err := row.Scan(&user.UserID, &user.Username, &user.Avatar, &status, &lastSeen, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	user.Status = domain.UserStatus(status)
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, avatar, status, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		avatar = excluded.avatar,
		status = excluded.status,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	status := user.Status
	if status == "" {
		status = domain.UserOffline
	}
	now := time.Now()
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.Avatar, string(status),
		user.LastSeenAt.Unix(), createdAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// FindUsersByIDs returns the users that exist among ids.
func (s *SQLiteStore) FindUsersByIDs(ctx context.Context, ids []string) ([]*domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	return collectUsers(rows)
}

// UpdateUserStatus sets the presence flag and last seen time of a user.
func (s *SQLiteStore) UpdateUserStatus(ctx context.Context, userID string, status domain.UserStatus, lastSeen time.Time) error {
	query := `UPDATE users SET status = ?, last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, string(status), lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateUserStatus affected 0 rows", "user_id", userID)
	}
	return nil
}

// ListUsersByStatus returns every user currently stored with status.
func (s *SQLiteStore) ListUsersByStatus(ctx context.Context, status domain.UserStatus) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query users by status: %w", err)
	}
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]*domain.User, error) {
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close user rows", "error", closeErr)
		}
	}()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// CreateRoom persists a room and its participant list in one transaction.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *domain.Room) (*domain.Room, error) {
	created := *room
	if created.RoomID == "" {
		created.RoomID = uuid.NewString()
	}
	now := time.Now()
	created.CreatedAt = now
	created.UpdatedAt = now
	created.Participants = append([]string(nil), room.Participants...)
	created.MessageIDs = nil
	created.LastMessageID = ""

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (room_id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			created.RoomID, created.Name, now.UnixNano(), now.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		for i, userID := range created.Participants {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO room_participants (room_id, user_id, position) VALUES (?, ?, ?)`,
				created.RoomID, userID, i,
			); err != nil {
				return fmt.Errorf("insert room participant: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// FindRoomByID retrieves a room with its participants and message references.
func (s *SQLiteStore) FindRoomByID(ctx context.Context, roomID string) (*domain.Room, error) {
	var room domain.Room
	var lastMessageID sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT room_id, name, last_message_id, created_at, updated_at FROM rooms WHERE room_id = ?`, roomID,
	).Scan(&room.RoomID, &room.Name, &lastMessageID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan room row: %w", err)
	}
	room.LastMessageID = lastMessageID.String
	room.CreatedAt = time.Unix(0, createdAt)
	room.UpdatedAt = time.Unix(0, updatedAt)

	room.Participants, err = s.queryStrings(ctx,
		`SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY position`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query room participants: %w", err)
	}
	room.MessageIDs, err = s.queryStrings(ctx,
		`SELECT message_id FROM room_messages WHERE room_id = ? ORDER BY seq`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query room messages: %w", err)
	}
	return &room, nil
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close rows", "error", closeErr)
		}
	}()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// AppendMessageToRoom records the message on the room and moves the last
// message pointer inside a single transaction.
func (s *SQLiteStore) AppendMessageToRoom(ctx context.Context, roomID, messageID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE rooms SET last_message_id = ?, updated_at = ? WHERE room_id = ?`,
			messageID, time.Now().UnixNano(), roomID,
		)
		if err != nil {
			return fmt.Errorf("update room last message: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: room %s", domain.ErrNotFound, roomID)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_messages (room_id, message_id) VALUES (?, ?)`, roomID, messageID,
		); err != nil {
			return fmt.Errorf("append room message: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const messageColumns = `message_id, sender_id, receiver_id, room_id, body, message_type, content_kind, status, created_at, read_at`

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var receiverID, roomID sql.NullString
	var messageType, contentKind, status string
	var createdAt int64
	var readAt sql.NullInt64

	if err := row.Scan(
		&msg.MessageID, &msg.SenderID, &receiverID, &roomID, &msg.Body,
		&messageType, &contentKind, &status, &createdAt, &readAt,
	); err != nil {
		return nil, err
	}

	msg.ReceiverID = receiverID.String
	msg.RoomID = roomID.String
	msg.MessageType = domain.MessageType(messageType)
	msg.ContentKind = domain.ContentKind(contentKind)
	msg.Status = domain.MessageStatus(status)
	msg.CreatedAt = time.Unix(0, createdAt)
	if readAt.Valid {
		ts := time.Unix(0, readAt.Int64)
		msg.ReadAt = &ts
	}
	return &msg, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateMessage persists a message, assigning MessageID and CreatedAt.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	created := *msg
	created.MessageID = uuid.NewString()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now()
	}
	if created.Status == "" {
		created.Status = domain.StatusSent
	}

	var readAt any
	if created.ReadAt != nil {
		readAt = created.ReadAt.UnixNano()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created.MessageID, created.SenderID, nullable(created.ReceiverID), nullable(created.RoomID),
		created.Body, string(created.MessageType), string(created.ContentKind), string(created.Status),
		created.CreatedAt.UnixNano(), readAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &created, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}
	return msg, nil
}

// statusRankSQL mirrors domain.MessageStatus.Rank so the monotonic guard runs in the UPDATE itself.
const statusRankSQL = `CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`

// UpdateMessageStatus advances a message status; backwards or repeated updates are ignored.
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus, readAt *time.Time) error {
	query := `UPDATE messages SET status = ?, read_at = COALESCE(?, read_at)
		WHERE message_id = ? AND ` + statusRankSQL + ` < ?`

	var readAtArg any
	if readAt != nil {
		readAtArg = readAt.UnixNano()
	}

	result, err := s.db.ExecContext(ctx, query, string(status), readAtArg, messageID, status.Rank())
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Debug("UpdateMessageStatus affected 0 rows", "message_id", messageID, "status", status)
	}
	return nil
}

// FindRecentMessages returns up to limit messages matching filter, most recent first.
func (s *SQLiteStore) FindRecentMessages(ctx context.Context, filter MessageFilter, limit int) ([]*domain.Message, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	var (
		query string
		args  []any
	)
	if filter.RoomID != "" {
		query = `SELECT ` + messageColumns + ` FROM messages
			WHERE message_type = 'room' AND room_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?`
		args = []any{filter.RoomID, limit}
	} else {
		query = `SELECT ` + messageColumns + ` FROM messages
			WHERE message_type = 'private'
			  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
			ORDER BY created_at DESC, rowid DESC LIMIT ?`
		args = []any{filter.UserA, filter.UserB, filter.UserB, filter.UserA, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
