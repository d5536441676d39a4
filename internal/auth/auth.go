package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/example/corridor-matching/internal/models"
)

// ErrInvalidToken covers missing, malformed, expired and badly signed
// credentials. Handshakes are refused on it.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is the verified subject of a credential.
type Identity struct {
	UserID   string
	Username string
	Role     models.Role
}

// Verifier checks an opaque bearer credential. The concrete implementation is
// a collaborator; the engine and HTTP layer only see this interface.
type Verifier interface {
	Verify(token string) (Identity, error)
}

type claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.StandardClaims
}

// JWTVerifier validates HS256 tokens issued by the account service.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	role := models.Role(c.Role)
	if role != models.RoleDriver && role != models.RolePassenger {
		return Identity{}, ErrInvalidToken
	}
	if c.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: c.Subject, Username: c.Username, Role: role}, nil
}

// GenerateToken issues a token for id, valid for ttl. Used by the account
// service and by tests.
func GenerateToken(secret string, id Identity, ttl time.Duration) (string, error) {
	c := &claims{
		Username: id.Username,
		Role:     string(id.Role),
		StandardClaims: jwt.StandardClaims{
			Subject:   id.UserID,
			ExpiresAt: time.Now().Add(ttl).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}
