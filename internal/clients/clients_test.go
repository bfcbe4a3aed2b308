package clients

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cytokine/backend/internal/models"
	"github.com/cytokine/backend/internal/store"
)

func newService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	mem := store.NewMemory()
	require.NoError(t, CreateClient(context.Background(), mem, &models.Client{
		ID:   "tf2pickup",
		Name: "tf2pickup bot",
		Access: models.ClientAccess{
			Games: []string{models.GameTF2},
			Limit: 3,
		},
	}, "s3cret"))
	return NewService(mem, "jwt-secret", time.Hour, logrus.NewEntry(logger)), mem
}

func TestAuthenticate(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	c, err := s.Authenticate(ctx, "tf2pickup", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "tf2pickup bot", c.Name)

	_, err = s.Authenticate(ctx, "tf2pickup", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenRoundTrip(t *testing.T) {
	s, _ := newService(t)
	c, err := s.Authenticate(context.Background(), "tf2pickup", "s3cret")
	require.NoError(t, err)

	token, exp, err := s.IssueToken(c)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	id, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "tf2pickup", id)
}

func TestParseTokenRejects(t *testing.T) {
	s, _ := newService(t)
	c := &models.Client{ID: "tf2pickup"}

	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := s.IssueToken(c)
	require.NoError(t, err)
	_, err = s.ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewService(store.NewMemory(), "another-secret", time.Hour, s.log)
	forged, _, err := other.IssueToken(c)
	require.NoError(t, err)
	_, err = s.ParseToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "tf2pickup"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.ParseToken(none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
