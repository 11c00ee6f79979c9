package identity

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

// RegisterRoutes wires the public auth endpoints and the user management
// endpoints. public must not have the auth middleware; api must.
func (h *Handler) RegisterRoutes(public, api *echo.Group) {
	public.POST("/auth/register", h.Register)
	public.POST("/auth/verify-email", h.VerifyEmail)
	public.POST("/auth/login", h.Login)
	public.POST("/auth/forgot-password", h.ForgotPassword)
	public.POST("/auth/reset-password", h.ResetPassword)

	api.GET("/users/me", h.Me)
	api.GET("/doctors", h.ListDoctors, auth.RequireRole(auth.RolePatient, auth.RoleDoctor))

	admin := api.Group("", auth.RequireRole(auth.RoleSuperadmin))
	admin.POST("/users/doctors", h.CreateDoctor)
	admin.POST("/users/patients", h.CreatePatient)
	admin.GET("/users", h.ListUsers)
	admin.GET("/users/:id", h.GetUser)
	admin.DELETE("/users/:id", h.DeleteUser)
	admin.POST("/users/:id/restore", h.RestoreUser)
}

// mapError translates service errors into HTTP responses.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrPhoneTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrEmailArchived), errors.Is(err, ErrPhoneArchived):
		return echo.NewHTTPError(http.StatusConflict, err.Error()+"; contact support to restore it")
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidCode):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrEmailNotVerified):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAccountArchived):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSuperadminImmutable):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, err := h.svc.Register(c.Request().Context(), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"user":    user,
		"message": "verification code sent",
	})
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *Handler) VerifyEmail(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, token, err := h.svc.VerifyEmail(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"user": user, "token": token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, token, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"user": user, "token": token})
}

type forgotRequest struct {
	Email string `json:"email"`
}

func (h *Handler) ForgotPassword(c echo.Context) error {
	var req forgotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "reset code sent"})
}

type resetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) ResetPassword(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ResetPassword(c.Request().Context(), req.Email, req.Code, req.NewPassword); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) Me(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	user, err := h.svc.Get(c.Request().Context(), userID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, user)
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var in CreateStaffInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, err := h.svc.CreateDoctor(c.Request().Context(), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, user)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in CreateStaffInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, err := h.svc.CreatePatient(c.Request().Context(), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, user)
}

func (h *Handler) ListUsers(c echo.Context) error {
	pg := pagination.FromContext(c)
	role := c.QueryParam("role")
	includeDeleted := c.QueryParam("include_deleted") == "true"

	users, total, err := h.svc.List(c.Request().Context(), role, includeDeleted, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	doctors, total, err := h.svc.ListDoctors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(doctors, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	user, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, user)
}

func (h *Handler) DeleteUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.SoftDelete(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RestoreUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Restore(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
