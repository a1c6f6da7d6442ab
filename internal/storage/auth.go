package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"loopcast/internal/models"
	"golang.org/x/crypto/pbkdf2"
)

// EnsureOperator creates the named operator account when it does not exist
// yet. An existing account is returned unchanged, so the bootstrap password
// never overwrites one the operator has already rotated.
func (s *Storage) EnsureOperator(username, password string) (models.Operator, error) {
	username = normalizeUsername(username)
	if username == "" {
		return models.Operator{}, errors.New("username is required")
	}
	if len(password) < 8 {
		return models.Operator{}, errors.New("password must be at least 8 characters")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data.Operators[username]; ok {
		return existing, nil
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return models.Operator{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := generateID()
	if err != nil {
		return models.Operator{}, err
	}

	updatedData := cloneDataset(s.data)
	operator := models.Operator{
		ID:           id,
		Username:     username,
		PasswordHash: hashed,
		CreatedAt:    s.clock(),
	}
	updatedData.Operators[username] = operator

	if err := s.persistDataset(updatedData); err != nil {
		return models.Operator{}, err
	}
	s.data = updatedData
	return operator, nil
}

// AuthenticateOperator verifies credentials and returns the matching account.
func (s *Storage) AuthenticateOperator(username, password string) (models.Operator, error) {
	if password == "" {
		return models.Operator{}, errors.New("password is required")
	}
	operator, ok := s.GetOperator(username)
	if !ok {
		return models.Operator{}, ErrInvalidCredentials
	}
	if err := verifyPassword(operator.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.Operator{}, ErrInvalidCredentials
		}
		return models.Operator{}, err
	}
	return operator, nil
}

// SetOperatorPassword replaces the stored password hash for the account.
func (s *Storage) SetOperatorPassword(username, password string) (models.Operator, error) {
	username = normalizeUsername(username)
	if len(password) < 8 {
		return models.Operator{}, errors.New("password must be at least 8 characters")
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return models.Operator{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	operator, ok := updatedData.Operators[username]
	if !ok {
		return models.Operator{}, ErrOperatorNotFound
	}
	operator.PasswordHash = hashed
	updatedData.Operators[username] = operator

	if err := s.persistDataset(updatedData); err != nil {
		return models.Operator{}, err
	}
	s.data = updatedData
	return operator, nil
}

// GetOperator looks up the account by username.
func (s *Storage) GetOperator(username string) (models.Operator, bool) {
	username = normalizeUsername(username)
	s.mu.RLock()
	defer s.mu.RUnlock()
	operator, ok := s.data.Operators[username]
	return operator, ok
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, passwordHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", passwordHashIterations, encodedSalt, encodedKey), nil
}

func verifyPassword(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify password: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
