package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordPolicy はパスワードの強度要件。
type PasswordPolicy struct {
	RequiredLength         int
	RequireDigit           bool
	RequireLowercase       bool
	RequireUppercase       bool
	RequireNonAlphanumeric bool
}

// DefaultPasswordPolicy は長さ6以上・数字・小文字・大文字・記号をすべて要求する。
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		RequiredLength:         6,
		RequireDigit:           true,
		RequireLowercase:       true,
		RequireUppercase:       true,
		RequireNonAlphanumeric: true,
	}
}

// Validate はパスワードを検証し、満たしていない要件をすべて返す。
func (p PasswordPolicy) Validate(password string) Errors {
	var errs Errors

	if len([]rune(password)) < p.RequiredLength {
		errs = append(errs, Error{
			Code:        CodePasswordTooShort,
			Description: fmt.Sprintf("Passwords must be at least %d characters.", p.RequiredLength),
		})
	}

	var hasDigit, hasLower, hasUpper, hasNonAlnum bool
	for _, r := range password {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			hasNonAlnum = true
		}
	}

	if p.RequireNonAlphanumeric && !hasNonAlnum {
		errs = append(errs, Error{
			Code:        CodePasswordRequiresNonAlphanumeric,
			Description: "Passwords must have at least one non alphanumeric character.",
		})
	}
	if p.RequireDigit && !hasDigit {
		errs = append(errs, Error{
			Code:        CodePasswordRequiresDigit,
			Description: "Passwords must have at least one digit ('0'-'9').",
		})
	}
	if p.RequireLowercase && !hasLower {
		errs = append(errs, Error{
			Code:        CodePasswordRequiresLower,
			Description: "Passwords must have at least one lowercase ('a'-'z').",
		})
	}
	if p.RequireUppercase && !hasUpper {
		errs = append(errs, Error{
			Code:        CodePasswordRequiresUpper,
			Description: "Passwords must have at least one uppercase ('A'-'Z').",
		})
	}

	return errs
}

// hashPassword はbcryptでパスワードをハッシュ化する。
func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// verifyPassword はハッシュとパスワードが一致するかを返す。
// ハッシュが空（外部ログインのみのユーザー）の場合は常にfalse。
func verifyPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(password)) == nil
}

// bcryptInput はbcryptの72バイト制限を超えるパスワードをSHA-256の16進表現に置き換える。
func bcryptInput(password string) []byte {
	if len(password) <= 72 {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}
