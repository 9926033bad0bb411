package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "rxdispatch", ExpirationMinutes: 30}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{UserID: userID, Role: enums.UserRoleRider, JTI: "access-1"})
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, enums.UserRoleRider, claims.Role)
	assert.Equal(t, "access-1", claims.ID)
	assert.Equal(t, cfg.Issuer, claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)

	exp := now.Add(30 * time.Minute)
	assert.WithinDuration(t, exp, claims.ExpiresAt.Time, time.Second)
}

func TestMintAccessTokenGeneratesJTI(t *testing.T) {
	token, err := MintAccessToken(testJWTConfig(), time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRolePatient})
	require.NoError(t, err)
	claims, err := ParseAccessToken(testJWTConfig(), token)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)
}

func TestMintAccessTokenValidatesInput(t *testing.T) {
	cfg := testJWTConfig()
	_, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: "superuser"})
	assert.Error(t, err)

	_, err = MintAccessToken(cfg, time.Now(), AccessTokenPayload{Role: enums.UserRoleAdmin})
	assert.Error(t, err)

	_, err = MintAccessToken(config.JWTConfig{Issuer: "x", ExpirationMinutes: 1}, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleAdmin})
	assert.Error(t, err)
}

func TestParseAccessTokenInvalidSignature(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRolePatient})
	require.NoError(t, err)

	other := cfg
	other.Secret = "different"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err)
}

func TestParseAccessTokenExpiredAllowsRefreshInspection(t *testing.T) {
	cfg := testJWTConfig()
	past := time.Now().Add(-2 * time.Hour)
	token, err := MintAccessToken(cfg, past, AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRolePatient, JTI: "old"})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token)
	assert.Error(t, err)

	claims, err := ParseAccessTokenAllowExpired(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "old", claims.ID)
}

func TestParseAccessTokenRejectsForgedShape(t *testing.T) {
	cfg := testJWTConfig()
	userID := uuid.New()
	sign := func(claims *AccessTokenClaims) string {
		t.Helper()
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
		require.NoError(t, err)
		return signed
	}
	base := func() *AccessTokenClaims {
		return &AccessTokenClaims{
			UserID: userID,
			Role:   enums.UserRolePatient,
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "jti-1",
				Issuer:    cfg.Issuer,
				Subject:   userID.String(),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
	}

	_, err := ParseAccessToken(cfg, sign(base()))
	require.NoError(t, err)

	otherSubject := base()
	otherSubject.Subject = uuid.NewString()
	_, err = ParseAccessToken(cfg, sign(otherSubject))
	assert.Error(t, err)

	noExpiry := base()
	noExpiry.ExpiresAt = nil
	_, err = ParseAccessToken(cfg, sign(noExpiry))
	assert.Error(t, err)

	foreign := base()
	foreign.Issuer = "someone-else"
	_, err = ParseAccessTokenAllowExpired(cfg, sign(foreign))
	assert.Error(t, err)
}
