package security

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"corekit.dev/errs"
	"github.com/labstack/echo/v4"
)

// Session is the caller-provided object CSRF state is stored on — a thin
// contract rather than a concrete session type, since the core does not
// own session management.
type Session interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

const (
	sessionTokenKey  = "csrfToken"
	sessionExpiryKey = "csrfTokenExpiry"
)

// IssueToken generates a 16-byte random token, hex-encodes it, stores it
// (with its expiry) on session, and returns the hex string.
func IssueToken(session Session, expiryMinutes int) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", errs.Wrap(errs.Configuration, "generate csrf token", err)
	}
	token := hex.EncodeToString(raw)
	expiry := time.Now().Add(time.Duration(expiryMinutes) * time.Minute)

	session.Set(sessionTokenKey, token)
	session.Set(sessionExpiryKey, expiry.Format(time.RFC3339Nano))
	return token, nil
}

// VerifyToken reports whether presented matches the token stored on
// session and has not expired. Comparison is constant-time over the
// decoded bytes so verification runtime does not leak where the first
// differing byte falls, per §8 property 10.
func VerifyToken(presented string, session Session) bool {
	stored, ok := session.Get(sessionTokenKey)
	if !ok || stored == "" {
		return false
	}
	if presented == "" {
		return false
	}
	expiryRaw, ok := session.Get(sessionExpiryKey)
	if !ok {
		return false
	}
	expiry, err := time.Parse(time.RFC3339Nano, expiryRaw)
	if err != nil || time.Now().After(expiry) {
		return false
	}

	presentedBytes, err := hex.DecodeString(presented)
	if err != nil {
		return false
	}
	storedBytes, err := hex.DecodeString(stored)
	if err != nil {
		return false
	}
	if len(presentedBytes) != len(storedBytes) {
		return false
	}
	return subtle.ConstantTimeCompare(presentedBytes, storedBytes) == 1
}

// CSRFConfig configures CSRFMiddleware, per §4.4.1.
type CSRFConfig struct {
	TokenField  string // default "_csrf"
	HeaderField string // default "x-csrf-token"
	// Session resolves the request's session object. Required; a nil
	// result is treated as the misconfiguration case (status 500).
	Session func(c echo.Context) Session
	Skipper func(c echo.Context) bool
}

var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// CSRFMiddleware builds an echo.MiddlewareFunc enforcing CSRF verification
// against the session-stored token on unsafe methods.
func CSRFMiddleware(cfg CSRFConfig) echo.MiddlewareFunc {
	if cfg.TokenField == "" {
		cfg.TokenField = "_csrf"
	}
	if cfg.HeaderField == "" {
		cfg.HeaderField = "x-csrf-token"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			if safeMethods[c.Request().Method] {
				return next(c)
			}

			if cfg.Session == nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "csrf: no session accessor configured")
			}
			session := cfg.Session(c)
			if session == nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "csrf: session unavailable")
			}

			token := extractToken(c, cfg.TokenField, cfg.HeaderField)
			if !VerifyToken(token, session) {
				return echo.NewHTTPError(http.StatusForbidden, "csrf: token missing or invalid")
			}
			return next(c)
		}
	}
}

func extractToken(c echo.Context, tokenField, headerField string) string {
	if v := tokenFromBody(c, tokenField); v != "" {
		return v
	}
	for name, values := range c.Request().Header {
		if strings.EqualFold(name, headerField) && len(values) > 0 {
			return values[0]
		}
	}
	return c.QueryParam(tokenField)
}

// tokenFromBody reads tokenField out of a JSON body, restoring it
// afterward so downstream handlers still see the full request body.
func tokenFromBody(c echo.Context, tokenField string) string {
	req := c.Request()
	if !strings.Contains(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return c.FormValue(tokenField)
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return ""
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if v, ok := payload[tokenField].(string); ok {
		return v
	}
	return ""
}
