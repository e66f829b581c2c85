// Package webhook verifies signed webhook requests from the jambonz platform.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Signature"

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret. The
// comparison is constant-time.
func Verify(secret, signature string, body []byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Middleware rejects requests whose signature does not verify with 403.
// An empty secret disables verification.
func Middleware(secret string, logger *zap.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if secret == "" {
			return next
		}
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
			}
			req.Body = io.NopCloser(bytes.NewReader(body))

			if !Verify(secret, req.Header.Get(SignatureHeader), body) {
				logger.Warn("Invalid webhook signature",
					zap.String("path", req.URL.Path),
					zap.String("remote_addr", req.RemoteAddr))
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Invalid signature"})
			}
			return next(c)
		}
	}
}
