package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/appointment-service/internal/classifier"
	"github.com/clinicflow/appointment-service/internal/store"
)

func TestWebhookLinksChannelForRegisteredUser(t *testing.T) {
	r, repo := newTestRouter(t, time.Date(2025, 10, 7, 8, 0, 0, 0, time.UTC))
	repo.SeedUser(store.User{UserName: "amira", Category: classifier.CategoryGood})

	body := `{"update_id":1,"message":{"message_id":1,"date":0,"chat":{"id":555},"from":{"id":9,"username":"amira"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	u, err := repo.FindUserByName(context.Background(), "amira")
	require.NoError(t, err)
	assert.Equal(t, "555", u.NotifyChannelID)
}

func TestWebhookIgnoresUnknownUserButReturns200(t *testing.T) {
	r, _ := newTestRouter(t, time.Date(2025, 10, 7, 8, 0, 0, 0, time.UTC))

	body := `{"update_id":1,"message":{"message_id":1,"date":0,"chat":{"id":555},"from":{"id":9,"username":"ghost"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
