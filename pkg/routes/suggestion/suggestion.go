// Package suggestion exposes the suggestion review endpoints.
package suggestion

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	ctxhelpers "github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/suggestion"
)

var validate = validator.New()

// Register registers suggestion routes
func Register(g *echo.Group) {
	g.GET("", ListSuggestions)
	g.POST("/:id/dismiss", DismissSuggestion)
	g.POST("/:id/link", LinkSuggestion)
	g.POST("/:id/merge", MergeSuggestion)
	g.POST("/:id/undo", UndoSuggestion)
}

// ListSuggestions lists an owner's reviewable suggestions
func ListSuggestions(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := ctxhelpers.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ownerID := c.QueryParam("owner_id")
	if ownerID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "owner_id query parameter is required")
	}

	opts := suggestion.ListOptions{}
	if raw := c.QueryParam("min_confidence"); raw != "" {
		minConfidence, err := strconv.ParseFloat(raw, 64)
		if err != nil || minConfidence < 0 || minConfidence > 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "min_confidence must be between 0 and 1")
		}
		opts.MinConfidence = minConfidence
	}
	opts.IncludeDismissed = c.QueryParam("include_dismissed") == "true"

	ctx, manager, err := ectoinject.GetContext[*suggestion.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	suggestions, err := manager.List(ctx, tenantID, ownerID, opts)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, suggestions)
}

// DismissSuggestion dismisses a suggestion with a mandatory reason
func DismissSuggestion(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := ctxhelpers.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	var req models.DismissSuggestionRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "reason is required")
	}

	ctx, manager, err := ectoinject.GetContext[*suggestion.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	s, err := manager.Dismiss(ctx, tenantID, c.Param("id"), req.Reason)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, s)
}

// LinkSuggestion accepts a suggestion by creating a non-destructive link
func LinkSuggestion(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := ctxhelpers.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, manager, err := ectoinject.GetContext[*suggestion.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	s, err := manager.Link(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, s)
}

// MergeSuggestion accepts a suggestion by merging the matched owner into the
// source. Irreversible.
func MergeSuggestion(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := ctxhelpers.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	var req models.MergeSuggestionRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "reason must be at least 10 characters")
	}

	ctx, manager, err := ectoinject.GetContext[*suggestion.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	var performedBy *string
	if userID := ctxhelpers.GetUserID(ctx); userID != "" {
		performedBy = &userID
	}

	record, err := manager.Merge(ctx, tenantID, c.Param("id"), req.Reason, performedBy)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, record)
}

// UndoSuggestion reverses a dismiss or link whose undo window is still open
func UndoSuggestion(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := ctxhelpers.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, manager, err := ectoinject.GetContext[*suggestion.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	s, err := manager.Undo(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, s)
}
