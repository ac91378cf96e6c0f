// Package random は確認・リセットトークン用の不透明文字列生成を提供する。
package random

import (
	"crypto/rand"
	"fmt"
)

// tokenChars はトークンに使用する文字集合。URLおよびメール本文に
// そのまま埋め込めるよう英数字のみとする。
const tokenChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// DefaultTokenLength はUIDのデフォルト長。
const DefaultTokenLength = 64

// UID は暗号的に安全な乱数源からlength文字の不透明文字列を生成する。
// lengthが0以下の場合はDefaultTokenLengthを使用する。
func UID(length int) (string, error) {
	if length <= 0 {
		length = DefaultTokenLength
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	result := make([]byte, length)
	for i, b := range buf {
		result[i] = tokenChars[int(b)%len(tokenChars)]
	}
	return string(result), nil
}
