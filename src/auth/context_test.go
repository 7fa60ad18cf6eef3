package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireToken(t *testing.T) {
	var seen *Operator
	h := RequireToken("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetOperatorFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Nil(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotNil(t, seen)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/?token=s3cret", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireTokenDisabled(t *testing.T) {
	h := RequireToken("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := GetOperatorFromContext(r.Context())
		assert.True(t, ok)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
