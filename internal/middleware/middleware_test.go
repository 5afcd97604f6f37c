package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"facetag/internal/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestWebhookSignature(t *testing.T) {
	const secret = "webhook-secret"
	const body = `{"fileName":"cat.png"}`

	tests := []struct {
		name       string
		body       string
		signature  string
		wantStatus int
		wantCalled bool
	}{
		{"valid", body, security.SignPayload(secret, []byte(body)), http.StatusOK, true},
		{"missing", body, "", http.StatusUnauthorized, false},
		{"wrong secret", body, security.SignPayload("other", []byte(body)), http.StatusUnauthorized, false},
		{"tampered body", body + " ", security.SignPayload(secret, []byte(body)), http.StatusUnauthorized, false},
		{"too large", strings.Repeat("x", 2048), security.SignPayload(secret, []byte(strings.Repeat("x", 2048))), http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			router := gin.New()
			router.POST("/ReceiveData", WebhookSignature(secret, 1024), func(c *gin.Context) {
				called = true
				raw, ok := RawBody(c)
				if !ok || string(raw) != tt.body {
					t.Errorf("raw body = %q, %v", raw, ok)
				}
				again, _ := io.ReadAll(c.Request.Body)
				if string(again) != tt.body {
					t.Errorf("request body not reset: %q", again)
				}
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/ReceiveData", strings.NewReader(tt.body))
			if tt.signature != "" {
				req.Header.Set(security.HeaderSignature, tt.signature)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestRequestIDPropagates(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	var seen string
	router.GET("/", func(c *gin.Context) {
		seen = RequestIDFrom(c)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if seen != "req-123" || rec.Header().Get("X-Request-Id") != "req-123" {
		t.Errorf("request id = %q, header = %q", seen, rec.Header().Get("X-Request-Id"))
	}
}

func TestRecoveryReturnsJSON(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Recovery(zerolog.Nop()))
	router.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	router := gin.New()
	router.Use(CORS([]string{"https://app.example"}))
	router.POST("/ReceiveData", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/ReceiveData", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Errorf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-Signature") {
		t.Errorf("allow headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}
