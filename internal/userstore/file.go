package userstore

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/rs/zerolog"
)

const saltBytes = 16

// FileStore keeps accounts in a plain-text file, one record per line:
// username:base64(hash):base64(salt). The whole file is rewritten on every
// successful registration, before Register returns.
type FileStore struct {
	path  string
	log   *zerolog.Logger
	mu    sync.RWMutex
	users map[string]types.User
}

// NewFileStore loads the user file at path. A missing file is seeded with
// the default accounts and written out immediately.
func NewFileStore(path string, logger *zerolog.Logger) (*FileStore, error) {
	fs := &FileStore{
		path:  path,
		log:   logger,
		users: make(map[string]types.User),
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fs.seedDefaults(); err != nil {
			return nil, fmt.Errorf("seed user file: %w", err)
		}
		logger.Info().Str("path", path).Msg("created user file with default accounts")
		return fs, nil
	}

	if err := fs.load(); err != nil {
		return nil, fmt.Errorf("load user file: %w", err)
	}

	logger.Info().Str("path", path).Int("users", len(fs.users)).Msg("loaded user file")
	return fs, nil
}

func (fs *FileStore) seedDefaults() error {
	defaults := []struct{ username, password string }{
		{"diogo", "1234"},
		{"alvaro", "1234"},
		{"tomas", "1234"},
		{"alice", "password1"},
		{"bob", "password2"},
		{"eve", "password3"},
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, d := range defaults {
		u, err := newUser(d.username, d.password)
		if err != nil {
			return err
		}
		fs.users[u.Username] = u
	}

	return fs.save()
}

func (fs *FileStore) load() error {
	f, err := os.Open(fs.path)
	if err != nil {
		return err
	}
	defer f.Close()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		fs.users[parts[0]] = types.User{
			Username:     parts[0],
			PasswordHash: parts[1],
			Salt:         parts[2],
		}
	}

	return scanner.Err()
}

// save writes the full user table. Callers must hold the write lock.
func (fs *FileStore) save() error {
	var sb strings.Builder
	for _, u := range fs.users {
		sb.WriteString(u.Username)
		sb.WriteString(":")
		sb.WriteString(u.PasswordHash)
		sb.WriteString(":")
		sb.WriteString(u.Salt)
		sb.WriteString("\n")
	}

	return os.WriteFile(fs.path, []byte(sb.String()), 0o600)
}

func newUser(username, password string) (types.User, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return types.User{}, fmt.Errorf("generate salt: %w", err)
	}

	encodedSalt := base64.StdEncoding.EncodeToString(salt)
	return types.User{
		Username:     username,
		PasswordHash: hashPassword(password, encodedSalt),
		Salt:         encodedSalt,
	}, nil
}

// hashPassword computes base64(SHA-256(salt || password)) where salt is the
// stored base64 form, matching the on-disk record format.
func hashPassword(password, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (fs *FileStore) Register(username, password string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.users[username]; ok {
		return ErrUserExists
	}

	u, err := newUser(username, password)
	if err != nil {
		return err
	}

	fs.users[username] = u
	if err := fs.save(); err != nil {
		// The in-memory entry is rolled back so a retry can succeed once
		// the file is writable again.
		delete(fs.users, username)
		fs.log.Error().Err(err).Str("user", username).Msg("persist user file")
		return fmt.Errorf("persist user: %w", err)
	}

	return nil
}

func (fs *FileStore) Authenticate(username, password string) (types.User, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	u, ok := fs.users[username]
	if !ok {
		return types.User{}, ErrInvalidCredentials
	}

	computed := hashPassword(password, u.Salt)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(u.PasswordHash)) != 1 {
		return types.User{}, ErrInvalidCredentials
	}

	return u, nil
}

func (fs *FileStore) Close() error { return nil }
