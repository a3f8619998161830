package user

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	var id int
	query := `INSERT INTO users (username, password, name, status, image)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	err := r.db.QueryRowContext(ctx, query, user.Username, user.Password, user.Name, user.Status, user.Image).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	user.ID = id
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := "SELECT id, username, password, name, status, image FROM users WHERE username = $1"
	return r.scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *Repository) GetUserByID(ctx context.Context, id int) (*User, error) {
	query := "SELECT id, username, password, name, status, image FROM users WHERE id = $1"
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Name, &u.Status, &u.Image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string, excludeID int) ([]User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT id, username, name, status, image FROM users
		WHERE (username ILIKE $1 OR name ILIKE $1) AND id <> $2
		ORDER BY username LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Status, &u.Image); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *Repository) UpdateProfile(ctx context.Context, u *User) error {
	query := `UPDATE users SET name = $1, status = $2, image = $3, password = $4 WHERE id = $5`
	res, err := r.db.ExecContext(ctx, query, u.Name, u.Status, u.Image, u.Password, u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) Block(ctx context.Context, blockerID, blockedID int) error {
	query := `INSERT INTO blocked_users (blocker_id, blocked_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, blockerID, blockedID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyBlocked
	}
	return nil
}

func (r *Repository) Unblock(ctx context.Context, blockerID, blockedID int) error {
	query := `DELETE FROM blocked_users WHERE blocker_id = $1 AND blocked_id = $2`
	res, err := r.db.ExecContext(ctx, query, blockerID, blockedID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotBlocked
	}
	return nil
}

func (r *Repository) IsBlocked(ctx context.Context, blockerID, blockedID int) (bool, error) {
	var blocked bool
	query := `SELECT EXISTS (SELECT 1 FROM blocked_users WHERE blocker_id = $1 AND blocked_id = $2)`
	err := r.db.QueryRowContext(ctx, query, blockerID, blockedID).Scan(&blocked)
	return blocked, err
}
