package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go-chat-live/internal/user"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const messageSelect = `
	SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at, u.username, u.name, u.image
	FROM messages m
	JOIN users u ON m.sender_id = u.id`

func (r *Repository) ListChats(ctx context.Context, userID int) ([]Chat, error) {
	query := `
		SELECT c.id, c.name, c.is_group, COALESCE(c.admin_id, 0), c.latest_message_id, c.created_at, c.updated_at
		FROM chats c
		JOIN participants p ON p.chat_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}

	chats := []Chat{}
	var latest []sql.NullInt64
	for rows.Next() {
		var c Chat
		var latestID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.AdminID, &latestID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		chats = append(chats, c)
		latest = append(latest, latestID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range chats {
		if err := r.hydrate(ctx, &chats[i], latest[i]); err != nil {
			return nil, err
		}
	}
	return chats, nil
}

func (r *Repository) GetChat(ctx context.Context, chatID int) (*Chat, error) {
	query := `SELECT id, name, is_group, COALESCE(admin_id, 0), latest_message_id, created_at, updated_at
		FROM chats WHERE id = $1`
	c := &Chat{}
	var latestID sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, chatID).
		Scan(&c.ID, &c.Name, &c.IsGroup, &c.AdminID, &latestID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	if err := r.hydrate(ctx, c, latestID); err != nil {
		return nil, err
	}
	return c, nil
}

// hydrate loads participants and the latest message of c.
func (r *Repository) hydrate(ctx context.Context, c *Chat, latestID sql.NullInt64) error {
	participants, err := r.participants(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("load participants of chat %d: %w", c.ID, err)
	}
	c.Participants = participants

	if latestID.Valid {
		m, err := r.GetMessage(ctx, int(latestID.Int64))
		if err != nil && !errors.Is(err, ErrMessageNotFound) {
			return err
		}
		c.LatestMessage = m
	}
	return nil
}

func (r *Repository) participants(ctx context.Context, chatID int) ([]user.User, error) {
	query := `SELECT u.id, u.username, u.name, u.status, u.image
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.chat_id = $1
		ORDER BY p.joined_at, u.id`
	rows, err := r.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []user.User{}
	for rows.Next() {
		var u user.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Status, &u.Image); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *Repository) ParticipantIDs(ctx context.Context, chatID int) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM participants WHERE chat_id = $1 ORDER BY joined_at, user_id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) IsParticipant(ctx context.Context, chatID, userID int) (bool, error) {
	var ok bool
	query := `SELECT EXISTS (SELECT 1 FROM participants WHERE chat_id = $1 AND user_id = $2)`
	err := r.db.QueryRowContext(ctx, query, chatID, userID).Scan(&ok)
	return ok, err
}

// FindOneOnOne returns the non-group chat holding exactly a and b.
func (r *Repository) FindOneOnOne(ctx context.Context, a, b int) (*Chat, error) {
	query := `
		SELECT c.id FROM chats c
		JOIN participants pa ON pa.chat_id = c.id AND pa.user_id = $1
		JOIN participants pb ON pb.chat_id = c.id AND pb.user_id = $2
		WHERE c.is_group = FALSE
		LIMIT 1`
	var id int
	if err := r.db.QueryRowContext(ctx, query, a, b).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return r.GetChat(ctx, id)
}

func (r *Repository) CreateChat(ctx context.Context, name string, isGroup bool, adminID int, memberIDs []int) (*Chat, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var admin any
	if adminID != 0 {
		admin = adminID
	}
	var id int
	err = tx.QueryRowContext(ctx,
		`INSERT INTO chats (name, is_group, admin_id) VALUES ($1, $2, $3) RETURNING id`,
		name, isGroup, admin).Scan(&id)
	if err != nil {
		return nil, err
	}
	for _, uid := range memberIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO participants (chat_id, user_id) VALUES ($1, $2)`, id, uid); err != nil {
			return nil, fmt.Errorf("add participant %d: %w", uid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetChat(ctx, id)
}

func (r *Repository) RenameChat(ctx context.Context, chatID int, name string) error {
	return r.execOne(ctx, `UPDATE chats SET name = $1, updated_at = NOW() WHERE id = $2`, name, chatID)
}

func (r *Repository) SetAdmin(ctx context.Context, chatID, adminID int) error {
	return r.execOne(ctx, `UPDATE chats SET admin_id = $1, updated_at = NOW() WHERE id = $2`, adminID, chatID)
}

func (r *Repository) AddParticipant(ctx context.Context, chatID, userID int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO participants (chat_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, chatID, userID)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE chats SET updated_at = NOW() WHERE id = $1`, chatID)
	return err
}

func (r *Repository) RemoveParticipant(ctx context.Context, chatID, userID int) error {
	err := r.execOne(ctx, `DELETE FROM participants WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
	if errors.Is(err, ErrChatNotFound) {
		return ErrNotParticipant
	}
	return err
}

// DeleteChat removes the chat; participants and messages cascade.
func (r *Repository) DeleteChat(ctx context.Context, chatID int) error {
	return r.execOne(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
}

func (r *Repository) ListMessages(ctx context.Context, chatID int) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, messageSelect+` WHERE m.chat_id = $1 ORDER BY m.created_at ASC, m.id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (r *Repository) GetMessage(ctx context.Context, messageID int) (*Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, messageSelect+` WHERE m.id = $1`, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return m, nil
}

// CreateMessage stores the message and makes it the chat's latest.
func (r *Repository) CreateMessage(ctx context.Context, chatID, senderID int, content string) (*Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id int
	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages (chat_id, sender_id, content) VALUES ($1, $2, $3) RETURNING id`,
		chatID, senderID, content).Scan(&id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET latest_message_id = $1, updated_at = NOW() WHERE id = $2`, id, chatID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetMessage(ctx, id)
}

// DeleteMessage removes the message and points the chat at its newest remaining one.
func (r *Repository) DeleteMessage(ctx context.Context, chatID, messageID int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = $1 AND chat_id = $2`, messageID, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE chats SET latest_message_id = (
			SELECT id FROM messages WHERE chat_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1
		), updated_at = NOW() WHERE id = $1`, chatID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChatNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	m := &Message{Sender: &user.User{}}
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt, &m.Sender.Username, &m.Sender.Name, &m.Sender.Image)
	if err != nil {
		return nil, err
	}
	m.Sender.ID = m.SenderID
	return m, nil
}
