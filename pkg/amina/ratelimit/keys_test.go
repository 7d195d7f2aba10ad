package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func testContext(remoteAddr string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest("POST", "/internal/bots/register", nil)
	req.RemoteAddr = remoteAddr
	c.Request = req
	return c
}

func TestByHeaderOrIPPrefersHeader(t *testing.T) {
	c := testContext("192.0.2.1:1234")
	c.Request.Header.Set("X-Client-Id", "987654321098765432")

	subject, err := ByHeaderOrIP("X-Client-Id", "bot")(c)
	if err != nil {
		t.Fatalf("key derivation failed: %v", err)
	}
	if subject != "bot:987654321098765432" {
		t.Errorf("Expected header-keyed subject, got %q", subject)
	}
}

func TestByHeaderOrIPFallsBackToIP(t *testing.T) {
	c := testContext("192.0.2.1:1234")

	subject, err := ByHeaderOrIP("X-Client-Id", "bot")(c)
	if err != nil {
		t.Fatalf("key derivation failed: %v", err)
	}
	if subject != "bot:ip:192.0.2.1" {
		t.Errorf("Expected ip-keyed subject, got %q", subject)
	}
}

func TestByHeaderOrIPFailsClosed(t *testing.T) {
	c := testContext("")

	if _, err := ByHeaderOrIP("X-Client-Id", "bot")(c); err != ErrNoIdentifier {
		t.Errorf("Expected ErrNoIdentifier without any identity, got %v", err)
	}
}

func TestByClientIPFailsClosed(t *testing.T) {
	c := testContext("")

	if _, err := ByClientIP()(c); err != ErrNoIdentifier {
		t.Errorf("Expected ErrNoIdentifier without a client ip, got %v", err)
	}
}
