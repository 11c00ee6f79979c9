package appointment

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/venushealth/clinic/internal/domain/billing"
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
	api.POST("/appointments", h.Book, auth.RequireRole(auth.RolePatient))
	api.GET("/appointments/me", h.ListMine, auth.RequireRole(auth.RolePatient))
	api.GET("/appointments/assigned", h.ListAssigned, auth.RequireRole(auth.RoleDoctor))
	api.GET("/appointments/:id", h.Get)

	staff := api.Group("", auth.RequireRole(auth.RoleDoctor))
	staff.PATCH("/appointments/:id/status", h.UpdateStatus)
	staff.PATCH("/appointments/:id/schedule", h.Reschedule)
	staff.PUT("/appointments/:id/vitals", h.RecordVitals)
	staff.POST("/appointments/:id/finalize", h.Finalize)
	staff.PATCH("/appointments/:id/payment", h.UpdatePayment)
	staff.GET("/doctors/me/patients", h.MyPatients)

	admin := api.Group("", auth.RequireRole(auth.RoleSuperadmin))
	admin.POST("/appointments/assign", h.Assign)
	admin.GET("/appointments", h.List)
	admin.DELETE("/appointments/:id", h.Delete)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, billing.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadyFinalized), errors.Is(err, ErrCompletedImmutable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) Book(c echo.Context) error {
	var in BookInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Book(c.Request().Context(), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Assign(c echo.Context) error {
	var in AssignInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Assign(c.Request().Context(), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	appts, total, err := h.svc.List(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListMine(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	pg := pagination.FromContext(c)
	appts, total, err := h.svc.ListForPatient(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListAssigned(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	pg := pagination.FromContext(c)
	appts, total, err := h.svc.ListForDoctor(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Reschedule(c.Request().Context(), id, req.ScheduledAt)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) RecordVitals(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var v Vitals
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.RecordVitals(c.Request().Context(), id, v)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in FinalizeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.Finalize(c.Request().Context(), id, in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type paymentRequest struct {
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
}

func (h *Handler) UpdatePayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.UpdatePayment(c.Request().Context(), id, req.Status, req.PaymentMethod)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MyPatients(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	patients, err := h.svc.DoctorPatients(c.Request().Context(), userID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, patients)
}
