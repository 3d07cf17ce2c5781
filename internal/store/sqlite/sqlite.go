package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/parley/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; :memory: also depends on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// ApplySchema creates all tables if they do not exist.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	user := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	query := `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.PasswordHash, user.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username %q: %w", username, store.ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row scanner) (*store.User, error) {
	var user store.User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// UserExists reports whether id resolves to a real user.
func (s *SQLiteStore) UserExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query user exists: %w", err)
	}
	return exists, nil
}

// ==== ChatStore implementation ====

const chatColumns = `id, kind, name, posting_permission, download_permission, content_filtered,
	destruct_seconds, destruct_enabled_at, deleted, created_by, created_at`

// CreateChat persists a chat, its members and their chat list entries.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *store.Chat, directKey string) error {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = s.now()
	}

	var (
		name            string
		filtered        bool
		destructSeconds sql.NullInt64
		destructEnabled sql.NullTime
		direct          sql.NullString
	)
	posting, download := store.PermissionEveryone, store.PermissionEveryone
	if chat.Group != nil {
		name = chat.Group.Name
		posting = chat.Group.PostingPermission
		download = chat.Group.DownloadPermission
		filtered = chat.Group.ContentFiltered
	}
	if chat.Private != nil {
		if chat.Private.DestructSeconds != nil {
			destructSeconds = sql.NullInt64{Int64: int64(*chat.Private.DestructSeconds), Valid: true}
		}
		if chat.Private.DestructEnabledAt != nil {
			destructEnabled = sql.NullTime{Time: *chat.Private.DestructEnabledAt, Valid: true}
		}
	}
	if directKey != "" {
		direct = sql.NullString{String: directKey, Valid: true}
	}

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO chats (id, kind, name, posting_permission, download_permission, content_filtered,
				destruct_seconds, destruct_enabled_at, direct_key, deleted, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query, chat.ID, chat.Kind, name, posting, download, filtered,
			destructSeconds, destructEnabled, direct, chat.CreatedBy, chat.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("chat %s: %w", chat.ID, store.ErrConflict)
			}
			return fmt.Errorf("insert chat: %w", err)
		}

		for i := range chat.Members {
			m := &chat.Members[i]
			if m.JoinedAt.IsZero() {
				m.JoinedAt = chat.CreatedAt
			}
			if err := insertMember(ctx, tx, chat.ID, *m); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertMember(ctx context.Context, tx *sql.Tx, chatID string, m store.Member) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_members (chat_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
	`, chatID, m.UserID, m.Role, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_chats (user_id, chat_id, muted, added_at)
		VALUES (?, ?, 0, ?)
	`, m.UserID, chatID, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert chat ref: %w", err)
	}
	return nil
}

// GetChat retrieves a chat by ID, including deleted ones.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = ?`
	chat, err := scanChat(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChatByDirectKey retrieves the live private chat for a direct key.
func (s *SQLiteStore) GetChatByDirectKey(ctx context.Context, directKey string) (*store.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE direct_key = ? AND deleted = 0`
	chat, err := scanChat(s.db.QueryRowContext(ctx, query, directKey))
	if err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func scanChat(row scanner) (*store.Chat, error) {
	var (
		chat            store.Chat
		name            string
		posting         store.Permission
		download        store.Permission
		filtered        bool
		destructSeconds sql.NullInt64
		destructEnabled sql.NullTime
	)
	err := row.Scan(&chat.ID, &chat.Kind, &name, &posting, &download, &filtered,
		&destructSeconds, &destructEnabled, &chat.Deleted, &chat.CreatedBy, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}

	switch chat.Kind {
	case store.ChatKindPrivate:
		chat.Private = &store.PrivateSettings{}
		if destructSeconds.Valid {
			secs := int(destructSeconds.Int64)
			chat.Private.DestructSeconds = &secs
		}
		if destructEnabled.Valid {
			at := destructEnabled.Time
			chat.Private.DestructEnabledAt = &at
		}
	default:
		chat.Group = &store.GroupSettings{
			Name:               name,
			PostingPermission:  posting,
			DownloadPermission: download,
			ContentFiltered:    filtered,
		}
	}
	return &chat, nil
}

func (s *SQLiteStore) loadMembers(ctx context.Context, chat *store.Chat) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, role, joined_at
		FROM chat_members
		WHERE chat_id = ?
		ORDER BY rowid
	`, chat.ID)
	if err != nil {
		return fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	chat.Members = chat.Members[:0]
	for rows.Next() {
		var m store.Member
		if err := rows.Scan(&m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return fmt.Errorf("scan member: %w", err)
		}
		chat.Members = append(chat.Members, m)
	}
	return rows.Err()
}

// AddMember adds a user to a live chat if absent.
func (s *SQLiteStore) AddMember(ctx context.Context, chatID string, member store.Member) (bool, error) {
	if member.JoinedAt.IsZero() {
		member.JoinedAt = s.now()
	}
	var added bool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO chat_members (chat_id, user_id, role, joined_at)
			SELECT ?, ?, ?, ?
			WHERE EXISTS (SELECT 1 FROM chats WHERE id = ? AND deleted = 0)
		`, chatID, member.UserID, member.Role, member.JoinedAt, chatID)
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		if added, err = rowsChanged(res); err != nil || !added {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO user_chats (user_id, chat_id, muted, added_at)
			VALUES (?, ?, 0, ?)
		`, member.UserID, chatID, member.JoinedAt)
		if err != nil {
			return fmt.Errorf("insert chat ref: %w", err)
		}
		return nil
	})
	return added, err
}

// RemoveMember removes a user from a chat if present.
func (s *SQLiteStore) RemoveMember(ctx context.Context, chatID, userID string) (bool, error) {
	var removed bool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM chat_members WHERE chat_id = ? AND user_id = ?`, chatID, userID)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		if removed, err = rowsChanged(res); err != nil || !removed {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_chats WHERE user_id = ? AND chat_id = ?`, userID, chatID); err != nil {
			return fmt.Errorf("delete chat ref: %w", err)
		}
		return nil
	})
	return removed, err
}

// SetMemberRole changes the role of a current member.
func (s *SQLiteStore) SetMemberRole(ctx context.Context, chatID, userID string, role store.Role) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_members SET role = ?
		WHERE chat_id = ? AND user_id = ?
	`, role, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("update member role: %w", err)
	}
	return rowsChanged(res)
}

// CountMembers returns the current member count.
func (s *SQLiteStore) CountMembers(ctx context.Context, chatID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_members WHERE chat_id = ?`, chatID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// SetPermission updates a group/channel permission.
func (s *SQLiteStore) SetPermission(ctx context.Context, chatID string, kind store.PermissionKind, who store.Permission) error {
	var column string
	switch kind {
	case store.PermissionPost:
		column = "posting_permission"
	case store.PermissionDownload:
		column = "download_permission"
	default:
		return fmt.Errorf("unknown permission kind %q", kind)
	}
	query := `UPDATE chats SET ` + column + ` = ? WHERE id = ? AND deleted = 0 AND kind != 'private'`
	res, err := s.db.ExecContext(ctx, query, who, chatID)
	if err != nil {
		return fmt.Errorf("update permission: %w", err)
	}
	changed, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("chat: %w", store.ErrNotFound)
	}
	return nil
}

// SetDestruct sets or clears the private chat destruct duration.
func (s *SQLiteStore) SetDestruct(ctx context.Context, chatID string, seconds *int, enabledAt *time.Time) error {
	var (
		secs sql.NullInt64
		at   sql.NullTime
	)
	if seconds != nil {
		secs = sql.NullInt64{Int64: int64(*seconds), Valid: true}
	}
	if enabledAt != nil {
		at = sql.NullTime{Time: *enabledAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats SET destruct_seconds = ?, destruct_enabled_at = ?
		WHERE id = ? AND deleted = 0 AND kind = 'private'
	`, secs, at, chatID)
	if err != nil {
		return fmt.Errorf("update destruct: %w", err)
	}
	changed, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("chat: %w", store.ErrNotFound)
	}
	return nil
}

// MarkChatDeleted clears members and chat lists and sets the deleted flag.
func (s *SQLiteStore) MarkChatDeleted(ctx context.Context, chatID string) ([]string, error) {
	var former []string
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE chats SET deleted = 1, direct_key = NULL
			WHERE id = ? AND deleted = 0
		`, chatID)
		if err != nil {
			return fmt.Errorf("mark chat deleted: %w", err)
		}
		changed, err := rowsChanged(res)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("chat: %w", store.ErrNotFound)
		}

		rows, err := tx.QueryContext(ctx, `SELECT user_id FROM chat_members WHERE chat_id = ? ORDER BY rowid`, chatID)
		if err != nil {
			return fmt.Errorf("query members: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan member: %w", err)
			}
			former = append(former, id)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("close members: %w", err)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate members: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_members WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("clear members: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_chats WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("clear chat refs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return former, nil
}

// ListChatRefs lists a user's chat list in the order chats were added.
func (s *SQLiteStore) ListChatRefs(ctx context.Context, userID string) ([]*store.ChatRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, chat_id, muted, muted_until, added_at
		FROM user_chats
		WHERE user_id = ?
		ORDER BY added_at, rowid
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chat refs: %w", err)
	}
	defer rows.Close()

	var refs []*store.ChatRef
	for rows.Next() {
		ref, err := scanChatRef(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// GetChatRef retrieves one chat list entry.
func (s *SQLiteStore) GetChatRef(ctx context.Context, userID, chatID string) (*store.ChatRef, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, chat_id, muted, muted_until, added_at
		FROM user_chats
		WHERE user_id = ? AND chat_id = ?
	`, userID, chatID)
	return scanChatRef(row)
}

func scanChatRef(row scanner) (*store.ChatRef, error) {
	var (
		ref   store.ChatRef
		until sql.NullTime
	)
	if err := row.Scan(&ref.UserID, &ref.ChatID, &ref.Muted, &until, &ref.AddedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat ref: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("scan chat ref: %w", err)
	}
	if until.Valid {
		t := until.Time
		ref.MutedUntil = &t
	}
	return &ref, nil
}

// SetMuted updates the mute flag of a chat list entry.
func (s *SQLiteStore) SetMuted(ctx context.Context, userID, chatID string, muted bool, until *time.Time) (bool, error) {
	var u sql.NullTime
	if until != nil {
		u = sql.NullTime{Time: *until, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_chats SET muted = ?, muted_until = ?
		WHERE user_id = ? AND chat_id = ?
	`, muted, u, userID, chatID)
	if err != nil {
		return false, fmt.Errorf("update muted: %w", err)
	}
	return rowsChanged(res)
}

// ==== MessageStore implementation ====

const messageColumns = `id, chat_id, sender_id, content, content_type, media, parent_id,
	is_pinned, is_forward, is_announcement, is_edited, is_appropriate, created_at, updated_at`

// CreateMessage persists a message into a live chat.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.UpdatedAt = msg.CreatedAt

	var (
		parent      sql.NullString
		appropriate sql.NullBool
	)
	if msg.ParentID != nil {
		parent = sql.NullString{String: *msg.ParentID, Valid: true}
	}
	if msg.IsAppropriate != nil {
		appropriate = sql.NullBool{Bool: *msg.IsAppropriate, Valid: true}
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM chats WHERE id = ? AND deleted = 0)
	`
	res, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.ContentType, msg.Media, parent,
		msg.IsPinned, msg.IsForward, msg.IsAnnouncement, msg.IsEdited, appropriate,
		msg.CreatedAt, msg.UpdatedAt, msg.ChatID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	inserted, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("chat: %w", store.ErrNotFound)
	}
	return nil
}

// GetMessage retrieves a message with its thread.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if msg.ThreadIDs, err = s.threadOf(ctx, msg.ID); err != nil {
		return nil, err
	}
	return msg, nil
}

func scanMessage(row scanner) (*store.Message, error) {
	var (
		msg         store.Message
		parent      sql.NullString
		appropriate sql.NullBool
	)
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.ContentType, &msg.Media, &parent,
		&msg.IsPinned, &msg.IsForward, &msg.IsAnnouncement, &msg.IsEdited, &appropriate,
		&msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if parent.Valid {
		p := parent.String
		msg.ParentID = &p
	}
	if appropriate.Valid {
		a := appropriate.Bool
		msg.IsAppropriate = &a
	}
	return &msg, nil
}

func (s *SQLiteStore) threadOf(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id FROM message_threads
		WHERE parent_id = ?
		ORDER BY rowid
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query thread: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateMessageContent replaces content and marks the message edited.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string, appropriate *bool) error {
	var a sql.NullBool
	if appropriate != nil {
		a = sql.NullBool{Bool: *appropriate, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET content = ?, is_edited = 1, is_appropriate = COALESCE(?, is_appropriate), updated_at = ?
		WHERE id = ? AND is_forward = 0
	`, content, a, s.now(), id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	changed, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("message: %w", store.ErrNotFound)
	}
	return nil
}

// DeleteMessage removes a message and its thread links.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		if deleted, err = rowsChanged(res); err != nil || !deleted {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM message_threads WHERE parent_id = ? OR message_id = ?`, id, id); err != nil {
			return fmt.Errorf("delete thread links: %w", err)
		}
		return nil
	})
	return deleted, err
}

// SetPinned sets or clears the pin flag.
func (s *SQLiteStore) SetPinned(ctx context.Context, id string, pinned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET is_pinned = ? WHERE id = ?`, pinned, id)
	if err != nil {
		return fmt.Errorf("update pinned: %w", err)
	}
	changed, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("message: %w", store.ErrNotFound)
	}
	return nil
}

// AppendThread appends a reply id to the parent's thread if the parent exists.
func (s *SQLiteStore) AppendThread(ctx context.Context, parentID, messageID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_threads (parent_id, message_id)
		SELECT ?, ?
		WHERE EXISTS (SELECT 1 FROM messages WHERE id = ?)
	`, parentID, messageID, parentID)
	if err != nil {
		return fmt.Errorf("append thread: %w", err)
	}
	if _, err := rowsChanged(res); err != nil {
		return err
	}
	return nil
}

// ListMessages retrieves messages from a chat with pagination.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int, beforeID *string) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		query strings.Builder
		args  = []any{chatID}
	)
	query.WriteString(`SELECT ` + messageColumns + ` FROM messages WHERE chat_id = ?`)
	if beforeID != nil {
		query.WriteString(` AND rowid < (SELECT rowid FROM messages WHERE id = ?)`)
		args = append(args, *beforeID)
	}
	query.WriteString(` ORDER BY rowid DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	var msgs []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close messages: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Threads are loaded after rows is closed; the pool holds one connection.
	for _, msg := range msgs {
		if msg.ThreadIDs, err = s.threadOf(ctx, msg.ID); err != nil {
			return nil, err
		}
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ==== CallStore implementation ====

// CreateCall creates a new call with its initial participants.
func (s *SQLiteStore) CreateCall(ctx context.Context, call *store.VoiceCall) error {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = s.now()
	}
	if call.Status == "" {
		call.Status = store.CallStatusOngoing
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO calls (id, chat_id, initiator_id, kind, status, external_room, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, call.ID, call.ChatID, call.InitiatorID, call.Kind, call.Status, call.ExternalRoom, call.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert call: %w", err)
		}
		for _, userID := range call.Participants {
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO call_participants (call_id, user_id, joined_at)
				VALUES (?, ?, ?)
			`, call.ID, userID, call.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		return nil
	})
}

// GetCall retrieves a call by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*store.VoiceCall, error) {
	var (
		call  store.VoiceCall
		ended sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, initiator_id, kind, status, external_room, created_at, ended_at
		FROM calls
		WHERE id = ?
	`, id).Scan(&call.ID, &call.ChatID, &call.InitiatorID, &call.Kind, &call.Status,
		&call.ExternalRoom, &call.CreatedAt, &ended)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("call: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query call: %w", err)
	}
	if ended.Valid {
		t := ended.Time
		call.EndedAt = &t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM call_participants
		WHERE call_id = ?
		ORDER BY rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		call.Participants = append(call.Participants, userID)
	}
	return &call, rows.Err()
}

// AddParticipant adds a user to an ongoing call.
func (s *SQLiteStore) AddParticipant(ctx context.Context, callID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO call_participants (call_id, user_id, joined_at)
		SELECT ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM calls WHERE id = ? AND status = 'ongoing')
	`, callID, userID, s.now(), callID)
	if err != nil {
		return false, fmt.Errorf("insert participant: %w", err)
	}
	return rowsChanged(res)
}

// RemoveParticipant removes a user and reports how many remain.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, callID, userID string) (bool, int, error) {
	var (
		removed   bool
		remaining int
	)
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM call_participants WHERE call_id = ? AND user_id = ?`, callID, userID)
		if err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
		if removed, err = rowsChanged(res); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_participants WHERE call_id = ?`, callID).Scan(&remaining); err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		return nil
	})
	return removed, remaining, err
}

// FinishCall moves an ongoing call to finished.
func (s *SQLiteStore) FinishCall(ctx context.Context, callID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calls SET status = 'finished', ended_at = ?
		WHERE id = ? AND status = 'ongoing'
	`, s.now(), callID)
	if err != nil {
		return false, fmt.Errorf("finish call: %w", err)
	}
	return rowsChanged(res)
}
