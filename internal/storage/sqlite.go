package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tazhate/calassist/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER UNIQUE NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'owner',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// Briefing subscription
		`ALTER TABLE users ADD COLUMN briefings INTEGER NOT NULL DEFAULT 1`,
		// Events uploaded through the assistant
		`CREATE TABLE IF NOT EXISTS created_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uid TEXT UNIQUE NOT NULL,
			title TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			location TEXT DEFAULT '',
			calendar_url TEXT NOT NULL,
			created_by INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_created_events_created_at ON created_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_created_events_created_by ON created_events(created_by)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// === Users ===

const userColumns = `id, telegram_id, name, role, briefings, created_at`

func (s *Storage) CreateUser(u *domain.User) error {
	res, err := s.db.Exec(
		`INSERT INTO users (telegram_id, name, role, briefings) VALUES (?, ?, ?, ?)`,
		u.TelegramID, u.Name, u.Role, u.Briefings,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	u.ID = id
	u.CreatedAt = time.Now()
	return nil
}

func (s *Storage) GetUserByTelegramID(telegramID int64) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`,
		telegramID,
	).Scan(&u.ID, &u.TelegramID, &u.Name, &u.Role, &u.Briefings, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// SetBriefings turns the morning/evening briefings on or off for a user
func (s *Storage) SetBriefings(telegramID int64, enabled bool) error {
	res, err := s.db.Exec(`UPDATE users SET briefings = ? WHERE telegram_id = ?`, enabled, telegramID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d not found", telegramID)
	}
	return nil
}

// ListBriefingSubscribers returns users with briefings enabled
func (s *Storage) ListBriefingSubscribers() ([]*domain.User, error) {
	return s.queryUsers(`SELECT ` + userColumns + ` FROM users WHERE briefings = 1 ORDER BY id`)
}

// ListUsers returns all users
func (s *Storage) ListUsers() ([]*domain.User, error) {
	return s.queryUsers(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
}

func (s *Storage) queryUsers(query string, args ...interface{}) ([]*domain.User, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(&u.ID, &u.TelegramID, &u.Name, &u.Role, &u.Briefings, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// === Created events journal ===

const createdEventColumns = `id, uid, title, start_time, end_time, location, calendar_url, created_by, created_at`

// RecordCreatedEvent stores an event the assistant uploaded
func (s *Storage) RecordCreatedEvent(e *domain.CreatedEvent) error {
	now := time.Now()
	res, err := s.db.Exec(
		`INSERT INTO created_events (uid, title, start_time, end_time, location, calendar_url, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UID, e.Title, e.StartTime, e.EndTime, e.Location, e.CalendarURL, e.CreatedBy, now,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	e.ID = id
	e.CreatedAt = now
	return nil
}

// GetCreatedEventByUID returns a journal record by event UID
func (s *Storage) GetCreatedEventByUID(uid string) (*domain.CreatedEvent, error) {
	e := &domain.CreatedEvent{}
	err := s.db.QueryRow(
		`SELECT `+createdEventColumns+` FROM created_events WHERE uid = ?`,
		uid,
	).Scan(&e.ID, &e.UID, &e.Title, &e.StartTime, &e.EndTime, &e.Location, &e.CalendarURL, &e.CreatedBy, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ListRecentCreatedEvents returns the latest journal records, newest first
func (s *Storage) ListRecentCreatedEvents(limit int) ([]*domain.CreatedEvent, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(
		`SELECT `+createdEventColumns+` FROM created_events ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.CreatedEvent
	for rows.Next() {
		e := &domain.CreatedEvent{}
		if err := rows.Scan(&e.ID, &e.UID, &e.Title, &e.StartTime, &e.EndTime, &e.Location, &e.CalendarURL, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
