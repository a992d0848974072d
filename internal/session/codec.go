package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	issuer     = "pgmanage"
	keyContext = "pgmanage session signing v1"
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("session: invalid token")

// Codec signs sessions into HS256 tokens and verifies them on the way back.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec builds a codec. The secret must be at least 16 bytes; the signing
// key is derived from it with HKDF-SHA256.
func NewCodec(secret []byte, ttl time.Duration) (*Codec, error) {
	if len(secret) < 16 {
		return nil, errors.New("session: secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be greater than zero")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyContext)), key); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	return &Codec{secret: key, ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of encoded tokens.
func (c *Codec) TTL() time.Duration { return c.ttl }

type claims struct {
	Email    string        `json:"email"`
	Role     Role          `json:"role"`
	UserID   int64         `json:"uid"`
	TenantID int64         `json:"tid,omitempty"`
	Cookies  []cookieClaim `json:"ck,omitempty"`
	jwt.RegisteredClaims
}

type cookieClaim struct {
	Name    string `json:"n"`
	Value   string `json:"v"`
	Path    string `json:"p,omitempty"`
	Domain  string `json:"d,omitempty"`
	Expires int64  `json:"e,omitempty"`
}

// Encode signs s. Sessions without a resolved identity are refused.
func (c *Codec) Encode(s Session) (string, error) {
	if !s.Valid() {
		return "", fmt.Errorf("session: refusing to encode incomplete session for %q", s.Email)
	}
	now := c.now().UTC()
	issued := s.IssuedAt
	if issued.IsZero() || issued.After(now) {
		issued = now
	}
	cl := claims{
		Email:    s.Email,
		Role:     s.Role,
		UserID:   s.UserID,
		TenantID: s.TenantID,
		Cookies:  toClaims(s.Cookies),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(s.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Decode verifies token and rebuilds the session.
func (c *Codec) Decode(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(c.now),
	)
	var cl claims
	parsed, err := parser.ParseWithClaims(token, &cl, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Session{}, ErrInvalidToken
	}
	if cl.Subject != strconv.FormatInt(cl.UserID, 10) {
		return Session{}, ErrInvalidToken
	}
	s := Session{
		Email:    cl.Email,
		Role:     cl.Role,
		UserID:   cl.UserID,
		TenantID: cl.TenantID,
		Cookies:  fromClaims(cl.Cookies),
	}
	if cl.IssuedAt != nil {
		s.IssuedAt = cl.IssuedAt.Time.UTC()
	}
	if !s.Valid() {
		return Session{}, ErrInvalidToken
	}
	return s, nil
}

func toClaims(cookies []*http.Cookie) []cookieClaim {
	if len(cookies) == 0 {
		return nil
	}
	out := make([]cookieClaim, 0, len(cookies))
	for _, ck := range cookies {
		if ck == nil || ck.Name == "" {
			continue
		}
		cc := cookieClaim{Name: ck.Name, Value: ck.Value, Path: ck.Path, Domain: ck.Domain}
		if !ck.Expires.IsZero() {
			cc.Expires = ck.Expires.Unix()
		}
		out = append(out, cc)
	}
	return out
}

func fromClaims(in []cookieClaim) []*http.Cookie {
	if len(in) == 0 {
		return nil
	}
	out := make([]*http.Cookie, 0, len(in))
	for _, cc := range in {
		ck := &http.Cookie{Name: cc.Name, Value: cc.Value, Path: cc.Path, Domain: cc.Domain}
		if cc.Expires > 0 {
			ck.Expires = time.Unix(cc.Expires, 0).UTC()
		}
		out = append(out, ck)
	}
	return out
}
