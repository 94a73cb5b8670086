package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func postSubscription(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	h := NewHandler(NewMemoryStore())
	h.RegisterRoutes(router.Group("/v1"))

	req := httptest.NewRequest("POST", "/v1/webhooks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateSubscriptionRejectsInternalURLs(t *testing.T) {
	// The dispatcher delivers from inside the platform network, so
	// none of these may ever be registered as a destination.
	urls := []string{
		"http://localhost/hook",
		"http://127.0.0.1/hook",
		"http://10.0.0.5/hook",
		"http://169.254.169.254/latest/meta-data/",
		"http://0.0.0.0/hook",
		"ftp://example.com/hook",
	}
	for _, u := range urls {
		w := postSubscription(t, `{"email":"payer@example.com","url":"`+u+`"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("url %s: status = %d, want %d", u, w.Code, http.StatusBadRequest)
		}
	}
}

func TestCreateSubscriptionAcceptsPublicURL(t *testing.T) {
	// Public IP literal: validated without a DNS lookup.
	w := postSubscription(t, `{"email":"payer@example.com","url":"https://93.184.216.34/hook"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "secret") {
		t.Error("response does not include the signing secret")
	}
}
