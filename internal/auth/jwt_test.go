package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/auth"
	"schoolchat/internal/auth/authtest"
	"schoolchat/pkg/types"
)

func newVerifier(t *testing.T, issuer string) *auth.Verifier {
	t.Helper()
	v, err := auth.NewVerifier(authtest.Secret, issuer)
	require.NoError(t, err)
	return v
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := auth.NewVerifier("  ", "")
	assert.ErrorIs(t, err, auth.ErrEmptySecret)
}

func TestVerifier_Verify(t *testing.T) {
	v := newVerifier(t, "")
	token := authtest.Token(t, authtest.Secret, "teacher-1", types.RoleTeacher)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", id.UserID)
	assert.Equal(t, types.RoleTeacher, id.Role)

	id, err = v.Verify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", id.UserID)

	userID, err := v.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", userID)
}

func TestVerifier_Rejects(t *testing.T) {
	v := newVerifier(t, "school-backend")
	expired := authtest.Claims(t, authtest.Secret, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "student-1",
			Issuer:    "school-backend",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	wrongIssuer := authtest.Claims(t, authtest.Secret, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "student-1", Issuer: "elsewhere"},
	})
	badSubject := authtest.Claims(t, authtest.Secret, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "bad subject!", Issuer: "school-backend"},
	})

	cases := map[string]string{
		"wrong secret": authtest.Token(t, "another-secret-that-is-long-enough-too", "student-1", ""),
		"expired":      expired,
		"wrong issuer": wrongIssuer,
		"bad subject":  badSubject,
		"garbage":      "not.a.jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.True(t, errors.Is(err, auth.ErrInvalidToken), "got %v", err)
		})
	}

	_, err := v.Verify("Bearer ")
	assert.ErrorIs(t, err, auth.ErrEmptyToken)
}

func TestMiddleware(t *testing.T) {
	v := newVerifier(t, "")
	e := echo.New()
	handler := func(c echo.Context) error {
		id, ok := auth.FromContext(c)
		require.True(t, ok)
		return c.String(http.StatusOK, id.UserID)
	}
	e.GET("/me", handler, auth.Middleware(v))
	e.GET("/staff", handler, auth.Middleware(v), auth.RequireRole(types.RoleTeacher, types.RoleDirector))

	do := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/me", "junk").Code)

	rec := do("/me", authtest.Token(t, authtest.Secret, "student-1", types.RoleStudent))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student-1", rec.Body.String())

	assert.Equal(t, http.StatusForbidden, do("/staff", authtest.Token(t, authtest.Secret, "student-1", types.RoleStudent)).Code)
	assert.Equal(t, http.StatusOK, do("/staff", authtest.Token(t, authtest.Secret, "teacher-1", types.RoleTeacher)).Code)
}
