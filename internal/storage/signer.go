package storage

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

const fileAudience = "file"

type fileClaims struct {
	VersionID uint64 `json:"ver"`
	jwt.RegisteredClaims
}

// Signer issues and verifies short-lived download tokens for one document
// version.  Tokens carry their own audience so an access token can never be
// replayed as a file link.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns a Signer using secret for HS256.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Sign returns a token for versionID valid for ttl, and its expiry.
func (s *Signer) Sign(versionID uint64, ttl time.Duration) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("file signer: empty secret")
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := fileClaims{
		VersionID: versionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{fileAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify returns the version id carried by a valid, unexpired token.  Any
// invalid token is reported as model.ErrNotFound.
func (s *Signer) Verify(token string) (uint64, error) {
	var claims fileClaims
	tok, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(fileAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !tok.Valid || claims.VersionID == 0 {
		return 0, model.NotFoundf("file link is invalid or expired")
	}
	return claims.VersionID, nil
}
