package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is the persisted timestamp format. Nanosecond precision keeps
// updated_at strictly increasing across back-to-back writes; parsing also
// accepts plain RFC3339 timestamps supplied by imported snapshots.
const timeLayout = time.RFC3339Nano

// Store wraps a SQLite database holding user profiles, settings, and chat
// history. All mutating access goes through Update, which serializes
// operations per user so interleaved partial updates never mix.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "luma.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, users: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// userLock returns the mutex guarding one user's rows, creating it on first use.
// Locks are per identifier so operations on different users never contend.
func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.users[userID]
	if !ok {
		l = &sync.Mutex{}
		s.users[userID] = l
	}
	return l
}

// Update runs fn inside a single transaction while holding userID's lock.
// The transaction commits if fn returns nil and rolls back otherwise, so a
// failure partway through leaves previously committed state unchanged.
func (s *Store) Update(ctx context.Context, userID string, fn func(tx *sql.Tx) error) error {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// View runs fn inside a transaction holding the same per-user lock as Update,
// so reads never observe a record mid-write.
func (s *Store) View(ctx context.Context, userID string, fn func(tx *sql.Tx) error) error {
	return s.Update(ctx, userID, fn)
}

// EnsureUser creates the profile and settings rows with defaults if the user
// has never been seen. Idempotent; called at the start of every operation
// that references an identifier.
func (s *Store) EnsureUser(tx *sql.Tx, userID string, now time.Time) error {
	p := DefaultProfile(userID, now)
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO users (user_id, name, email, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.UserID, p.Name, p.Email, p.AvatarURL, p.CreatedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("ensuring user row: %w", err)
	}

	st := DefaultSettings(userID, now)
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO settings (
			user_id, theme_mode, dark_mode, notifications_enabled,
			chat_notifications, update_notifications, reminder_notifications,
			language, biometric_lock, app_version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.UserID, st.ThemeMode, st.DarkMode, st.NotificationsEnabled,
		st.ChatNotifications, st.UpdateNotifications, st.ReminderNotifications,
		st.Language, st.BiometricLock, st.AppVersion, st.UpdatedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("ensuring settings row: %w", err)
	}
	return nil
}

// GetProfile reads one user's profile row.
func (s *Store) GetProfile(tx *sql.Tx, userID string) (Profile, error) {
	var p Profile
	var createdAt string
	err := tx.QueryRow(`
		SELECT user_id, name, email, avatar_url, created_at
		FROM users WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Name, &p.Email, &p.AvatarURL, &createdAt)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	p.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return Profile{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return p, nil
}

// GetSettings reads one user's settings row.
func (s *Store) GetSettings(tx *sql.Tx, userID string) (Settings, error) {
	var st Settings
	var updatedAt string
	err := tx.QueryRow(`
		SELECT user_id, theme_mode, dark_mode, notifications_enabled,
		       chat_notifications, update_notifications, reminder_notifications,
		       language, biometric_lock, app_version, updated_at
		FROM settings WHERE user_id = ?`, userID,
	).Scan(&st.UserID, &st.ThemeMode, &st.DarkMode, &st.NotificationsEnabled,
		&st.ChatNotifications, &st.UpdateNotifications, &st.ReminderNotifications,
		&st.Language, &st.BiometricLock, &st.AppVersion, &updatedAt)
	if err == sql.ErrNoRows {
		return Settings{}, ErrNotFound
	}
	if err != nil {
		return Settings{}, err
	}
	st.UpdatedAt, err = time.Parse(timeLayout, updatedAt)
	if err != nil {
		return Settings{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return st, nil
}

// PutSettings overwrites the full settings row. The row must already exist
// (EnsureUser ran earlier in the same transaction).
func (s *Store) PutSettings(tx *sql.Tx, st Settings) error {
	res, err := tx.Exec(`
		UPDATE settings SET
			theme_mode = ?, dark_mode = ?, notifications_enabled = ?,
			chat_notifications = ?, update_notifications = ?, reminder_notifications = ?,
			language = ?, biometric_lock = ?, app_version = ?, updated_at = ?
		WHERE user_id = ?`,
		st.ThemeMode, st.DarkMode, st.NotificationsEnabled,
		st.ChatNotifications, st.UpdateNotifications, st.ReminderNotifications,
		st.Language, st.BiometricLock, st.AppVersion, st.UpdatedAt.UTC().Format(timeLayout),
		st.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile overwrites the profile fields whose pointers are non-nil and
// leaves the rest untouched. Nil pointers bind as SQL NULL, so COALESCE keeps
// the stored value.
func (s *Store) UpdateProfile(tx *sql.Tx, userID string, name, email, avatarURL *string) error {
	_, err := tx.Exec(`
		UPDATE users SET
			name = COALESCE(?, name),
			email = COALESCE(?, email),
			avatar_url = COALESCE(?, avatar_url)
		WHERE user_id = ?`,
		name, email, avatarURL, userID,
	)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	return nil
}

// InsertHistory appends one entry and returns the sequence number the store
// assigned to it.
func (s *Store) InsertHistory(tx *sql.Tx, e HistoryEntry) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO chat_history (user_id, role, message, created_at)
		VALUES (?, ?, ?, ?)`,
		e.UserID, e.Role, e.Message, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting history entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading assigned sequence: %w", err)
	}
	return seq, nil
}

// DeleteHistory removes every history entry for userID and returns the count removed.
func (s *Store) DeleteHistory(tx *sql.Tx, userID string) (int64, error) {
	res, err := tx.Exec("DELETE FROM chat_history WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("deleting history: %w", err)
	}
	return res.RowsAffected()
}

// ListHistory returns userID's entries ordered by ascending sequence number.
func (s *Store) ListHistory(tx *sql.Tx, userID string) ([]HistoryEntry, error) {
	rows, err := tx.Query(`
		SELECT seq, user_id, role, message, created_at
		FROM chat_history WHERE user_id = ? ORDER BY seq ASC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var createdAt string
		if err := rows.Scan(&e.Seq, &e.UserID, &e.Role, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for seq %d: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
