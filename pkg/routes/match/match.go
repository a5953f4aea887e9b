// Package match exposes the ad-hoc match query endpoint.
package match

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	ctxhelpers "github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/matching"
	"github.com/Ramsey-B/thistle/pkg/models"
)

var validate = validator.New()

// Register registers match routes
func Register(g *echo.Group) {
	g.POST("/find", FindMatches)
}

// FindMatches runs the matching strategies against a raw value without
// persisting anything
func FindMatches(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := ctxhelpers.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	var req models.FindMatchesRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "value and field_kind are required")
	}
	if !req.FieldKind.Valid() {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown field_kind")
	}

	ctx, engine, err := ectoinject.GetContext[*matching.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	matches, err := engine.FindMatches(ctx, tenantID, req.Value, req.FieldKind, matching.FindOptions{
		IncludePartial:   req.IncludePartial,
		PartialThreshold: req.PartialThreshold,
		ExcludeID:        req.ExcludeID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, matches)
}
