// Package password はパスワードのハッシュ化と検証を提供する。
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// saltLength はソルトのバイト長。
	saltLength = 16
	// iterations はPBKDF2の反復回数。意図的にコストをかける。
	iterations = 120000
	// keyLength は導出鍵のバイト長。
	keyLength = 32
)

// Hasher はPBKDF2-SHA256によるパスワードハッシュ化を提供する。
// 出力は "salt_hex:hash_hex" 形式の不透明な文字列で、
// ソルトとパラメータ込みで自己完結している。
type Hasher struct{}

// NewHasher はHasherを生成する。
func NewHasher() *Hasher {
	return &Hasher{}
}

// Hash はパスワードをハッシュ化する。
// 呼び出しごとに新しいランダムソルトを生成するため、
// 同じパスワードでも毎回異なる出力になる。
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(plaintext), salt, iterations, keyLength, sha256.New)

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// Verify はパスワードを保存済みハッシュと照合する。
// 埋め込まれたソルトで再導出し、定数時間比較で照合する。
// 不正な形式のencodedHash（フィールド数違い、hex不正）は検証失敗として扱い、
// エラーとして伝播させない。
func (h *Hasher) Verify(plaintext, encodedHash string) bool {
	parts := strings.Split(encodedHash, ":")
	if len(parts) != 2 {
		return false
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(parts[1])
	if err != nil || len(expected) == 0 {
		return false
	}

	key := pbkdf2.Key([]byte(plaintext), salt, iterations, len(expected), sha256.New)

	return subtle.ConstantTimeCompare(key, expected) == 1
}
