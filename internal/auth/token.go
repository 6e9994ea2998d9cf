// Package auth validates the bearer tokens issued by the identity service
// and turns them into actors.
package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-docspace/internal/model"
	"go-docspace/pkg/apierror"
)

const (
	TypeAccess = "access"
	// TypeShare tokens belong to anonymous visitors of an external share link.
	TypeShare = "share"
)

// Claims is the token payload.
type Claims struct {
	Type     string `json:"typ"`
	TenantID int    `json:"tid"`
	Admin    bool   `json:"adm,omitempty"`
	LinkID   string `json:"lnk,omitempty"`
	jwt.RegisteredClaims
}

type Tokens struct {
	secret []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Issue signs a token for actor that expires after ttl.
func (t *Tokens) Issue(actor model.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Type:     TypeAccess,
		TenantID: actor.TenantID,
		Admin:    actor.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if actor.External != nil {
		claims.Type = TypeShare
		claims.LinkID = actor.External.LinkID.String()
		claims.Subject = actor.External.SessionID
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a signed token into the actor it was issued for.
func (t *Tokens) Validate(tokenString string) (model.Actor, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierror.New("UNAUTHORIZED", "invalid token signing method", "", http.StatusUnauthorized)
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return model.Actor{}, apierror.New("UNAUTHORIZED", "invalid token", "", http.StatusUnauthorized)
	}
	if claims.TenantID <= 0 {
		return model.Actor{}, apierror.New("UNAUTHORIZED", "invalid token tenant", "", http.StatusUnauthorized)
	}

	actor := model.Actor{TenantID: claims.TenantID, IsAdmin: claims.Admin}
	switch claims.Type {
	case TypeAccess:
		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			return model.Actor{}, apierror.New("UNAUTHORIZED", "invalid token subject", "", http.StatusUnauthorized)
		}
		actor.UserID = id
	case TypeShare:
		link, err := uuid.Parse(claims.LinkID)
		if err != nil || claims.Subject == "" {
			return model.Actor{}, apierror.New("UNAUTHORIZED", "invalid share session", "", http.StatusUnauthorized)
		}
		actor.IsAdmin = false
		actor.External = &model.ExternalSession{LinkID: link, SessionID: claims.Subject}
	default:
		return model.Actor{}, apierror.New("UNAUTHORIZED", "invalid token type", "", http.StatusUnauthorized)
	}
	return actor, nil
}
