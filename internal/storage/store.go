package storage

import (
	"context"
	"embed"

	"gradebot/internal/grades"
	logx "gradebot/pkg/logx"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const gradeColumns = `subject, course_code, section, grade, letter, session, term,
	program, year, total_credits, credits, average, standing`

// Store is safe for concurrent use, but writes are expected from a single goroutine.
type Store struct {
	db  *sqlx.DB
	log logx.Logger
}

// NewWithDB wraps an existing handle without running migrations.
func NewWithDB(db *sqlx.DB, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{db: db, log: log}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx))
}

// CreateUser inserts a user and returns its id. A duplicate (username, channel)
// yields ErrConstraint.
func (s *Store) CreateUser(ctx context.Context, username, channel string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, channel) VALUES(?, ?)`, username, channel)
	if err != nil {
		return 0, classify("create user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify("create user", err)
	}
	return id, nil
}

// UserID looks up a user by (username, channel). Missing users yield ErrNotFound.
func (s *Store) UserID(ctx context.Context, username, channel string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		`SELECT id FROM users WHERE username = ? AND channel = ?`, username, channel)
	if err != nil {
		return 0, classify("user id", err)
	}
	return id, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.SelectContext(ctx, &users,
		`SELECT id, username, channel FROM users ORDER BY id`); err != nil {
		return nil, classify("list users", err)
	}
	return users, nil
}

func (s *Store) ListUsersByChannel(ctx context.Context, channel string) ([]User, error) {
	var users []User
	if err := s.db.SelectContext(ctx, &users,
		`SELECT id, username, channel FROM users WHERE channel = ? ORDER BY id`, channel); err != nil {
		return nil, classify("list users by channel", err)
	}
	return users, nil
}

// DeleteUser removes the user and, by cascade, its grades.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return classify("delete user", err)
	}
	return affected("delete user", res)
}

type gradeRow struct {
	UserID int64 `db:"user_id"`
	grades.Record
}

func (s *Store) InsertGrade(ctx context.Context, userID int64, r grades.Record) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO grades(user_id, `+gradeColumns+`)
		 VALUES(:user_id, :subject, :course_code, :section, :grade, :letter, :session, :term,
		 	:program, :year, :total_credits, :credits, :average, :standing)`,
		gradeRow{UserID: userID, Record: r})
	return classify("insert grade", err)
}

// UpdateGrade rewrites the row matching (user, subject, course_code).
// It returns ErrNotFound when no row matches.
func (s *Store) UpdateGrade(ctx context.Context, userID int64, r grades.Record) error {
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE grades SET section = :section, grade = :grade, letter = :letter,
		 	session = :session, term = :term, program = :program, year = :year,
		 	total_credits = :total_credits, credits = :credits, average = :average,
		 	standing = :standing
		 WHERE user_id = :user_id AND subject = :subject AND course_code = :course_code`,
		gradeRow{UserID: userID, Record: r})
	if err != nil {
		return classify("update grade", err)
	}
	return affected("update grade", res)
}

// Grades lists a user's records in insertion order.
func (s *Store) Grades(ctx context.Context, userID int64) ([]grades.Record, error) {
	var out []grades.Record
	if err := s.db.SelectContext(ctx, &out,
		`SELECT `+gradeColumns+` FROM grades WHERE user_id = ? ORDER BY rowid`, userID); err != nil {
		return nil, classify("grades", err)
	}
	return out, nil
}

func (s *Store) GradeByKey(ctx context.Context, userID int64, key grades.Key) (grades.Record, error) {
	var r grades.Record
	err := s.db.GetContext(ctx, &r,
		`SELECT `+gradeColumns+` FROM grades WHERE user_id = ? AND subject = ? AND course_code = ?`,
		userID, key.Subject, key.CourseCode)
	if err != nil {
		return grades.Record{}, classify("grade by key", err)
	}
	return r, nil
}

func affected(op string, res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return classify(op, ErrNotFound)
	}
	return nil
}
