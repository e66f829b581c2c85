package webhook

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	assert.Equal(t,
		"5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		Sign("Jefe", []byte("what do ya want for nothing?")))
}

func TestVerify(t *testing.T) {
	body := []byte(`{"call_sid":"CA1"}`)
	sig := Sign("s3cret", body)

	assert.True(t, Verify("s3cret", sig, body))
	assert.False(t, Verify("other", sig, body))
	assert.False(t, Verify("s3cret", sig, []byte(`{"call_sid":"CA2"}`)))
	assert.False(t, Verify("s3cret", "", body))
	assert.False(t, Verify("", sig, body))
}

func TestVerifyProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("a signature verifies only its own body", prop.ForAll(
		func(secret, body string) bool {
			sig := Sign(secret, []byte(body))
			return Verify(secret, sig, []byte(body)) && !Verify(secret, sig, []byte(body+"x"))
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AnyString(),
	))
	properties.TestingRun(t)
}

func serve(t *testing.T, secret, body, sig string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	var seen string
	e.POST("/hook", func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		require.NoError(t, err)
		seen = string(data)
		return c.String(http.StatusOK, seen)
	}, Middleware(secret, nil))

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		assert.Equal(t, body, seen)
	}
	return rec
}

func TestMiddleware(t *testing.T) {
	body := `{"call_status":"completed"}`

	rec := serve(t, "s3cret", body, Sign("s3cret", []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.String())

	rec = serve(t, "s3cret", body, "deadbeef")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, "s3cret", body, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, "", body, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
