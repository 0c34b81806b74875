package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/ternarybob/annotor/internal/common"
)

// tokenClaims is the signed payload of both token kinds. Bearer tokens carry
// User; job tokens carry Job plus the store key of their revocation record.
type tokenClaims struct {
	User    string `json:"user,omitempty"`
	Job     int64  `json:"job,omitempty"`
	TokenID string `json:"tid,omitempty"`
}

// signToken produces <base64url(payload)>.<base64url(hmac-sha256(payload))>
func signToken(secret []byte, claims tokenClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + sign(secret, encoded), nil
}

func verifyToken(secret []byte, token string) (*tokenClaims, error) {
	encoded, signature, found := strings.Cut(token, ".")
	if !found {
		return nil, common.Unauthorizedf("malformed token")
	}
	if !hmac.Equal([]byte(sign(secret, encoded)), []byte(signature)) {
		return nil, common.Unauthorizedf("invalid token signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, common.Unauthorizedf("malformed token")
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, common.Unauthorizedf("malformed token")
	}
	return &claims, nil
}

func sign(secret []byte, encoded string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
