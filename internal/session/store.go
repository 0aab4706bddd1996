// Package session manages the authentication lifecycle: it exchanges
// credentials for a bearer token, keeps the active credential in memory and
// in a local SQLite key-value store, and attaches the token to the shared
// API client. The database is opened lazily; if opening it or executing
// queries fails, the store falls back to in-memory state only (the
// credential then does not survive a restart).
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"mmchat/internal/api"
	"mmchat/internal/logger"
)

// Exactly two keys live in the store, written and cleared together.
const (
	keyToken = "token"
	keyUser  = "user"
)

// Credential is the authenticated identity plus the bearer token used to
// authorize API calls. At most one Credential is active at a time.
type Credential struct {
	Token string
	User  api.User
}

// Store manages the active Credential. All mutating operations also update
// the injected API client's bearer token, so every other component issuing
// calls through that client picks up the change.
type Store struct {
	client *api.Client
	path   string

	dbOnce  sync.Once
	db      *sql.DB
	initErr error

	once sync.Once
	cred *Credential
}

// New creates a Store persisting to the SQLite database at path. The
// database file is created on first use.
func New(client *api.Client, path string) *Store {
	return &Store{client: client, path: path}
}

func (s *Store) openDB() {
	dbPath := s.path
	if dbPath == "" {
		dbPath = os.Getenv("MMCHAT_DB_PATH")
	}
	if dbPath == "" {
		dbPath = "mmchat.db"
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			s.initErr = err
			logger.L.Warn("credential store dir creation failed; credential will not persist", "error", err)
			return
		}
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_busy_timeout=10000")
	if err != nil {
		s.initErr = err
		logger.L.Warn("sqlite open failed; credential will not persist", "error", err)
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS credentials (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );`); err != nil {
		s.initErr = err
		logger.L.Warn("sqlite table creation failed; credential will not persist", "error", err)
		return
	}
	s.db = db
}

// Init restores a previously persisted credential, if any, and reattaches
// its token to the API client. It runs its work exactly once per Store;
// callers must not use the store before Init returns.
func (s *Store) Init() {
	s.once.Do(func() {
		s.dbOnce.Do(s.openDB)
		if s.initErr != nil || s.db == nil {
			return
		}

		token, okT := s.get(keyToken)
		rawUser, okU := s.get(keyUser)
		if !okT || !okU {
			return
		}

		var user api.User
		if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
			logger.L.Warn("stored user profile is corrupt; starting unauthenticated", "error", err)
			return
		}

		s.cred = &Credential{Token: token, User: user}
		s.client.SetToken(token)
		logger.L.Debug("restored persisted credential", "username", user.Username)
	})
}

func (s *Store) get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM credentials WHERE key = ?;`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		logger.L.Warn("credential read failed", "key", key, "error", err)
		return "", false
	}
	return value, true
}

// persist writes both entries in one transaction so the token never exists
// on disk without its user profile (or vice versa).
func (s *Store) persist(cred *Credential) {
	s.dbOnce.Do(s.openDB)
	if s.initErr != nil || s.db == nil {
		return
	}

	rawUser, err := json.Marshal(cred.User)
	if err != nil {
		logger.L.Error("failed to serialize user profile", "error", err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		logger.L.Error("failed to persist credential", "error", err)
		return
	}
	for key, value := range map[string]string{keyToken: cred.Token, keyUser: string(rawUser)} {
		if _, err := tx.Exec(`INSERT INTO credentials (key, value) VALUES (?, ?)
            ON CONFLICT(key) DO UPDATE SET value = excluded.value;`, key, value); err != nil {
			logger.L.Error("failed to persist credential", "key", key, "error", err)
			tx.Rollback()
			return
		}
	}
	if err := tx.Commit(); err != nil {
		logger.L.Error("failed to persist credential", "error", err)
	}
}

func (s *Store) clearPersisted() {
	s.dbOnce.Do(s.openDB)
	if s.initErr != nil || s.db == nil {
		return
	}
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE key IN (?, ?);`, keyToken, keyUser); err != nil {
		logger.L.Error("failed to clear persisted credential", "error", err)
	}
}

// Login exchanges email and password for a token, stores the resulting
// credential, and attaches the token to the API client. On rejection it
// returns an *api.AuthError carrying the server-supplied message.
func (s *Store) Login(ctx context.Context, email, password string) error {
	resp, err := s.client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	s.apply(resp)
	return nil
}

// Register creates an account; same success and failure shape as Login.
func (s *Store) Register(ctx context.Context, email, username, password string) error {
	resp, err := s.client.Register(ctx, email, username, password)
	if err != nil {
		return err
	}
	s.apply(resp)
	return nil
}

func (s *Store) apply(resp api.TokenResponse) {
	cred := &Credential{Token: resp.AccessToken, User: resp.User}
	s.cred = cred
	s.client.SetToken(cred.Token)
	s.persist(cred)
	logger.L.Info("authenticated", "username", cred.User.Username)
}

// Logout clears the persisted entries, the in-memory credential, and the
// client's bearer token. It always succeeds and never talks to the server.
func (s *Store) Logout() {
	s.cred = nil
	s.client.ClearToken()
	s.clearPersisted()
	logger.L.Info("logged out")
}

// Current returns the active credential, or false when unauthenticated.
func (s *Store) Current() (*Credential, bool) {
	if s.cred == nil {
		return nil, false
	}
	return s.cred, true
}
