package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultStateTTL = 10 * time.Minute
	stateAudience   = "strava-authorize"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingState         = errors.New("state must be provided")
)

// StateIssuerConfig configures the OAuth state issuer.
type StateIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TTL           time.Duration
	Clock         func() time.Time
}

// StateIssuer signs and validates the opaque state parameter of the authorization round trip.
type StateIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
}

// NewStateIssuer constructs a StateIssuer.
func NewStateIssuer(cfg StateIssuerConfig) (*StateIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errMissingIssuer
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StateIssuer{
		secret: cfg.SigningSecret,
		issuer: cfg.Issuer,
		ttl:    ttl,
		clock:  clock,
	}, nil
}

// Issue returns a freshly signed state value.
func (i *StateIssuer) Issue() (string, error) {
	nonce, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	now := i.clock().UTC()
	claims := jwt.RegisteredClaims{
		ID:        nonce.String(),
		Issuer:    i.issuer,
		Audience:  []string{stateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Validate checks the signature, issuer, audience and expiry of a state value.
func (i *StateIssuer) Validate(state string) error {
	if strings.TrimSpace(state) == "" {
		return errMissingState
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		state,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithAudience(stateAudience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
	)
	return err
}
