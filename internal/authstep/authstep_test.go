package authstep

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicentral/gateway/internal/calldetails"
)

func TestStep_NoClientsConfiguredAdmitsAnonymously(t *testing.T) {
	s := New(nil)
	cd := &calldetails.CallDetails{}

	decision := s.Pre(context.Background(), httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil), cd)
	assert.True(t, decision.Admitted)
	assert.Empty(t, cd.ConsumerID)
}

func TestStep_ValidBearerKeyTagsConsumer(t *testing.T) {
	s := New([]Client{{Name: "acme", AllowedKeys: []string{"sk-acme-1"}}})
	cd := &calldetails.CallDetails{}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer sk-acme-1")

	decision := s.Pre(context.Background(), httptest.NewRecorder(), r, cd)
	require.True(t, decision.Admitted)
	assert.Equal(t, "acme", cd.ConsumerID)
}

func TestStep_ValidAPIKeyHeaderTagsConsumer(t *testing.T) {
	s := New([]Client{{Name: "acme", AllowedKeys: []string{"sk-acme-1"}}})
	cd := &calldetails.CallDetails{}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("api-key", "sk-acme-1")

	decision := s.Pre(context.Background(), httptest.NewRecorder(), r, cd)
	require.True(t, decision.Admitted)
	assert.Equal(t, "acme", cd.ConsumerID)
}

func TestStep_UnknownKeyRejectedWith401(t *testing.T) {
	s := New([]Client{{Name: "acme", AllowedKeys: []string{"sk-acme-1"}}})
	cd := &calldetails.CallDetails{}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer sk-intruder")
	rec := httptest.NewRecorder()

	decision := s.Pre(context.Background(), rec, r, cd)
	assert.False(t, decision.Admitted)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, cd.ConsumerID)
}

func TestStep_MissingKeyRejectedWith401(t *testing.T) {
	s := New([]Client{{Name: "acme", AllowedKeys: []string{"sk-acme-1"}}})
	cd := &calldetails.CallDetails{}

	rec := httptest.NewRecorder()
	decision := s.Pre(context.Background(), rec, httptest.NewRequest(http.MethodPost, "/", nil), cd)
	assert.False(t, decision.Admitted)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
