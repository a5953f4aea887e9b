package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/errs"
	"github.com/Ramsey-B/thistle/pkg/logging"
)

func callErrorHandler(t *testing.T, err error) (*httptest.ResponseRecorder, ErrorResponse) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	Error(logging.NewNopLogger())(err, c)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestErrorHandlerMapsKinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{errs.Validation("s1", "reason required"), http.StatusBadRequest},
		{errs.NotFound("s1", "missing"), http.StatusNotFound},
		{errs.Conflict("e1", "version changed"), http.StatusConflict},
		{errs.AlreadyTerminal("s1", "already merged"), http.StatusConflict},
		{errs.Unavailable("suggestions", assert.AnError), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		rec, body := callErrorHandler(t, tt.err)
		assert.Equal(t, tt.status, rec.Code, "error %v", tt.err)
		assert.Equal(t, string(errs.KindOf(tt.err)), body.Kind)
		assert.NotEmpty(t, body.Message)
	}
}

func TestErrorHandlerEchoHTTPError(t *testing.T) {
	rec, body := callErrorHandler(t, echo.NewHTTPError(http.StatusTeapot, "short and stout"))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", body.Message)
	assert.Empty(t, body.Kind)
}

func TestErrorHandlerUnclassified(t *testing.T) {
	rec, body := callErrorHandler(t, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", body.Message)
}
