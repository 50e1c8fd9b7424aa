// Package session выпускает непрозрачные токены, привязывающие браузер к черновику заказа.
// В заказе хранится только SHA-256 хэш токена.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

const tokenBytes = 32

// Binder выпускает и проверяет токены сессии.
type Binder struct {
	random io.Reader
}

// NewBinder создаёт Binder на crypto/rand.
func NewBinder() *Binder {
	return &Binder{random: rand.Reader}
}

// NewBinderWithReader нужен тестам для детерминированных токенов.
func NewBinderWithReader(r io.Reader) *Binder {
	return &Binder{random: r}
}

// Mint возвращает новый токен и хэш, который сохраняется в заказе.
func (b *Binder) Mint() (token, hash string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(b.random, buf); err != nil {
		return "", "", fmt.Errorf("read random token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, Hash(token), nil
}

// Verify сравнивает хэш предъявленного токена с сохранённым за постоянное время.
func (b *Binder) Verify(token, storedHash string) bool {
	if token == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Hash(token)), []byte(storedHash)) == 1
}

// Hash возвращает hex SHA-256 токена.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
