// Package sqlstore implements the store collaborators on SQLite. Reads run
// concurrently on the connection pool; all writes are funnelled through a
// single writer goroutine to avoid SQLite write contention.
package sqlstore

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"go-groupchat/internal/models"
	"go-groupchat/internal/store"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

func DefaultConfig() Config {
	return Config{
		Path:            "./data/chat.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
	}
}

type Store struct {
	db     *sql.DB
	writes chan writeOp
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	ctx    context.Context
	fn     func(ctx context.Context, db *sql.DB) error
	result chan error
}

var _ store.Store = (*Store)(nil)

func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path cannot be empty")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		writes: make(chan writeOp, 100),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()

	slog.Info("[STORE] SQLite store opened", "path", cfg.Path)
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writes:
			if err := op.ctx.Err(); err != nil {
				op.result <- err
				continue
			}
			op.result <- op.fn(op.ctx, s.db)
		case <-s.done:
			return
		}
	}
}

func (s *Store) write(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return store.ErrClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writes <- writeOp{ctx: ctx, fn: fn, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return store.ErrClosed
	}

	// fn runs under ctx, so this returns soon after ctx expires. The result is
	// the only word on whether the write committed.
	select {
	case err := <-result:
		return err
	case <-s.done:
		s.wg.Wait()
		select {
		case err := <-result:
			return err
		default:
			return store.ErrClosed
		}
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Seeding. Users and channels are owned by the HTTP CRUD side; these writers
// exist for tests and the seed command.

func (s *Store) UpsertUser(ctx context.Context, u *models.User) error {
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return errors.Wrap(err, "marshal roles")
	}
	return s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, username, roles) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET username = excluded.username, roles = excluded.roles
		`, u.Id, u.Username, string(roles))
		return errors.Wrap(err, "upsert user")
	})
}

// UpsertChannel replaces the channel row and its member, ban and admin lists.
func (s *Store) UpsertChannel(ctx context.Context, ch *models.Channel) error {
	return s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin transaction")
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channels (id, group_id, name) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET group_id = excluded.group_id, name = excluded.name
		`, ch.Id, ch.GroupId, ch.Name); err != nil {
			return errors.Wrap(err, "upsert channel")
		}

		lists := []struct {
			table string
			ids   map[string]struct{}
		}{
			{"channel_members", ch.MemberIds},
			{"channel_bans", ch.BannedIds},
			{"channel_admins", ch.AdminIds},
		}
		for _, l := range lists {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+l.table+` WHERE channel_id = ?`, ch.Id); err != nil {
				return errors.Wrapf(err, "clear %s", l.table)
			}
			for id := range l.ids {
				if _, err := tx.ExecContext(ctx, `INSERT INTO `+l.table+` (channel_id, user_id) VALUES (?, ?)`, ch.Id, id); err != nil {
					return errors.Wrapf(err, "insert %s", l.table)
				}
			}
		}
		return errors.Wrap(tx.Commit(), "commit channel")
	})
}

func (s *Store) FindUser(ctx context.Context, userId string) (*models.User, error) {
	var u models.User
	var roles string
	err := s.db.QueryRowContext(ctx, `SELECT id, username, roles FROM users WHERE id = ?`, userId).
		Scan(&u.Id, &u.Username, &roles)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query user")
	}
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return nil, errors.Wrap(err, "unmarshal roles")
	}
	return &u, nil
}

func (s *Store) FindChannel(ctx context.Context, channelId string) (*models.Channel, error) {
	ch := &models.Channel{
		MemberIds: make(map[string]struct{}),
		BannedIds: make(map[string]struct{}),
		AdminIds:  make(map[string]struct{}),
	}
	err := s.db.QueryRowContext(ctx, `SELECT id, group_id, name FROM channels WHERE id = ?`, channelId).
		Scan(&ch.Id, &ch.GroupId, &ch.Name)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query channel")
	}

	lists := []struct {
		table string
		into  map[string]struct{}
	}{
		{"channel_members", ch.MemberIds},
		{"channel_bans", ch.BannedIds},
		{"channel_admins", ch.AdminIds},
	}
	for _, l := range lists {
		if err := s.loadIds(ctx, l.table, channelId, l.into); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

func (s *Store) loadIds(ctx context.Context, table, channelId string, into map[string]struct{}) error {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM `+table+` WHERE channel_id = ?`, channelId)
	if err != nil {
		return errors.Wrapf(err, "query %s", table)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return errors.Wrapf(err, "scan %s", table)
		}
		into[id] = struct{}{}
	}
	return errors.Wrapf(rows.Err(), "iterate %s", table)
}

func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	stored := *msg
	stored.Id = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()
	stored.IsEdited = false
	stored.EditedAt = nil
	stored.Reactions = []models.Reaction{}

	err := s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, channel_id, sender_id, sender_username, type, content,
				file_url, file_name, file_size, mime_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			stored.Id,
			stored.ChannelId,
			stored.SenderId,
			stored.SenderUsername,
			string(stored.Type),
			stored.Content,
			stored.FileUrl,
			stored.FileName,
			stored.FileSize,
			stored.MimeType,
			stored.CreatedAt,
		)
		return errors.Wrap(err, "insert message")
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

const messageColumns = `id, channel_id, sender_id, sender_username, type, content,
	file_url, file_name, file_size, mime_type, created_at, is_edited, edited_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var m models.Message
	var typ string
	var edited sql.NullTime
	err := row.Scan(
		&m.Id,
		&m.ChannelId,
		&m.SenderId,
		&m.SenderUsername,
		&typ,
		&m.Content,
		&m.FileUrl,
		&m.FileName,
		&m.FileSize,
		&m.MimeType,
		&m.CreatedAt,
		&m.IsEdited,
		&edited,
	)
	if err != nil {
		return nil, err
	}
	m.Type = models.MessageType(typ)
	if edited.Valid {
		t := edited.Time
		m.EditedAt = &t
	}
	m.Reactions = []models.Reaction{}
	return &m, nil
}

func (s *Store) FindMessage(ctx context.Context, messageId string) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageId))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query message")
	}
	if err := s.attachReactions(ctx, []*models.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) UpdateMessage(ctx context.Context, messageId string, patch models.MessagePatch) (*models.Message, error) {
	err := s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE messages SET content = ?, is_edited = 1, edited_at = ? WHERE id = ?
		`, patch.Content, patch.EditedAt.UTC(), messageId)
		if err != nil {
			return errors.Wrap(err, "update message")
		}
		return requireAffected(res)
	})
	if err != nil {
		return nil, err
	}
	return s.FindMessage(ctx, messageId)
}

func (s *Store) DeleteMessage(ctx context.Context, messageId string) error {
	return s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageId)
		if err != nil {
			return errors.Wrap(err, "delete message")
		}
		return requireAffected(res)
	})
}

func (s *Store) AddReaction(ctx context.Context, messageId, userId, emoji string) (*models.Reaction, bool, error) {
	r := models.Reaction{UserId: userId, Emoji: emoji, Timestamp: time.Now().UTC()}
	var added bool
	err := s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE id = ?`, messageId).Scan(&exists)
		if err != nil {
			return errors.Wrap(err, "query message")
		}
		if exists == 0 {
			return store.ErrNotFound
		}
		res, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)
		`, messageId, userId, emoji, r.Timestamp)
		if err != nil {
			return errors.Wrap(err, "insert reaction")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "rows affected")
		}
		added = n > 0
		return nil
	})
	if err != nil || !added {
		return nil, false, err
	}
	return &r, true, nil
}

func (s *Store) RemoveReaction(ctx context.Context, messageId, userId, emoji string) (bool, error) {
	var removed bool
	err := s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?
		`, messageId, userId, emoji)
		if err != nil {
			return errors.Wrap(err, "delete reaction")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "rows affected")
		}
		removed = n > 0
		return nil
	})
	return removed, err
}

func (s *Store) ListMessages(ctx context.Context, channelId string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE channel_id = ?
		ORDER BY rowid DESC
		LIMIT ?
	`, channelId, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if err := s.attachReactions(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) attachReactions(ctx context.Context, msgs []*models.Message) error {
	for _, m := range msgs {
		rows, err := s.db.QueryContext(ctx, `
			SELECT user_id, emoji, created_at FROM reactions
			WHERE message_id = ? ORDER BY rowid ASC
		`, m.Id)
		if err != nil {
			return errors.Wrap(err, "query reactions")
		}
		for rows.Next() {
			var r models.Reaction
			if err := rows.Scan(&r.UserId, &r.Emoji, &r.Timestamp); err != nil {
				_ = rows.Close()
				return errors.Wrap(err, "scan reaction")
			}
			m.Reactions = append(m.Reactions, r)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return errors.Wrap(err, "iterate reactions")
		}
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
