package billing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/venushealth/clinic/internal/platform/auth"
	"github.com/venushealth/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/invoices/me", h.ListMine, auth.RequireRole(auth.RolePatient))
	api.GET("/invoices/:id", h.Get)

	admin := api.Group("", auth.RequireRole(auth.RoleSuperadmin))
	admin.GET("/invoices", h.List)
	admin.PATCH("/invoices/:id/status", h.UpdateStatus)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "invoice not found")
	case errors.Is(err, ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrDuplicateInvoice):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	invoices, total, err := h.svc.List(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(invoices, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListMine(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	pg := pagination.FromContext(c)
	invoices, total, err := h.svc.ListForPatient(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(invoices, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inv, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

type updateStatusRequest struct {
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status, req.PaymentMethod)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, inv)
}
