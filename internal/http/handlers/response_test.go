package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-filemeta-harvester/internal/http/middleware"
)

func serveFail(t *testing.T, status int, buf *bytes.Buffer) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	lg := zerolog.New(buf)
	r.Use(func(c *gin.Context) {
		c.Set("logger", &lg)
		c.Next()
	})
	r.GET("/x", func(c *gin.Context) { Fail(c, status, "some_code", "some message") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	r.ServeHTTP(w, req)
	return w
}

func TestFail_EnvelopeAndServerErrorLogging(t *testing.T) {
	var buf bytes.Buffer
	w := serveFail(t, http.StatusInternalServerError, &buf)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp != (ErrorResponse{RequestID: "rid-1", Code: "some_code", Message: "some message"}) {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), "api error") {
		t.Fatalf("expected error log, got %q", buf.String())
	}
}

func TestFail_ClientErrorNotLogged(t *testing.T) {
	var buf bytes.Buffer
	w := serveFail(t, http.StatusNotFound, &buf)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx should not be logged, got %q", buf.String())
	}
}
