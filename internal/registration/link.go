package registration

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// ConfirmEmailPath はメール確認コールバックのパス。
const ConfirmEmailPath = "/Identity/Account/ConfirmEmail"

// EncodeToken はトークンのUTF-8バイト列をパディングなしのbase64urlで符号化する。
func EncodeToken(token string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(token))
}

// DecodeToken はEncodeTokenの逆変換を行う。
// 末尾にパディングが付いたコードも受け付ける。
func DecodeToken(code string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(code, "="))
	if err != nil {
		return "", fmt.Errorf("invalid confirmation code: %w", err)
	}
	return string(b), nil
}

// ConfirmationLink はメール確認コールバックの絶対URLを組み立てる。
func ConfirmationLink(baseURL, userID, token, returnURL string) string {
	q := url.Values{
		"userId":    {userID},
		"code":      {EncodeToken(token)},
		"returnUrl": {returnURL},
	}
	return strings.TrimRight(baseURL, "/") + ConfirmEmailPath + "?" + q.Encode()
}

// LocalReturnURL はローカルパスの場合のみそのまま返し、それ以外は"/"を返す。
// "//host" や "/\host" のようなプロトコル相対URLは外部扱いとする。
func LocalReturnURL(raw string) string {
	if raw == "" || raw[0] != '/' {
		return "/"
	}
	if len(raw) > 1 && (raw[1] == '/' || raw[1] == '\\') {
		return "/"
	}
	if strings.ContainsAny(raw, "\r\n") {
		return "/"
	}
	return raw
}
