// Package clients authenticates the upstream integrations that call the API.
package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/cytokine/backend/internal/models"
	"github.com/cytokine/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid client credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims are carried by client access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Service verifies client secrets and issues and parses access tokens.
type Service struct {
	store  store.ClientStore
	secret []byte
	ttl    time.Duration
	log    *logrus.Entry
	now    func() time.Time
}

func NewService(s store.ClientStore, jwtSecret string, ttl time.Duration, logger *logrus.Entry) *Service {
	return &Service{
		store:  s,
		secret: []byte(jwtSecret),
		ttl:    ttl,
		log:    logger,
		now:    time.Now,
	}
}

// VerifySecret checks if the provided secret matches the stored hash
func VerifySecret(hashedSecret, plainSecret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedSecret), []byte(plainSecret)) == nil
}

// CreateClient stores a client with a bcrypt hash of its secret (used for seeding)
func CreateClient(ctx context.Context, s store.ClientStore, client *models.Client, plainSecret string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plainSecret), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "failed to hash secret")
	}
	client.SecretHash = string(hashed)
	return s.SaveClient(ctx, client)
}

// Authenticate validates id + secret and returns the client.
func (s *Service) Authenticate(ctx context.Context, id, secret string) (*models.Client, error) {
	client, err := s.store.GetClient(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		s.log.WithField("client", id).Warn("unknown client")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !VerifySecret(client.SecretHash, secret) {
		s.log.WithField("client", id).Warn("secret verification failed")
		return nil, ErrInvalidCredentials
	}
	return client, nil
}

// IssueToken signs an HS256 access token for client.
func (s *Service) IssueToken(client *models.Client) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   client.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name: client.Name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "failed to sign token")
	}
	return signed, exp, nil
}

// ParseToken validates token and returns the client id it was issued to.
func (s *Service) ParseToken(token string) (string, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Client loads the client a token was issued to.
func (s *Service) Client(ctx context.Context, id string) (*models.Client, error) {
	client, err := s.store.GetClient(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	return client, err
}
