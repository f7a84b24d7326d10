package identity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// randomHex はn バイトの暗号的に安全な乱数を16進文字列で返す。
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken はトークンをHMAC-SHA256でハッシュ化する。
// DBにはハッシュのみ保存し、トークン本体はメールでのみ配布する。
func hashToken(secret []byte, token string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Normalize はユーザー名・メールアドレスの比較用正規化を行う。
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
