package clinical

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/venushealth/clinic/internal/platform/auth"
	"github.com/venushealth/clinic/internal/platform/blobstore"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/prescriptions/me", h.ListMyPrescriptions, auth.RequireRole(auth.RolePatient))
	api.GET("/prescriptions/:id", h.GetPrescription)
	api.PUT("/prescriptions/:id", h.UpdatePrescription)
	api.GET("/appointments/:id/prescription", h.GetAppointmentPrescription)

	api.POST("/reports", h.UploadReport, auth.RequireRole(auth.RolePatient))
	api.GET("/reports/me", h.ListMyReports, auth.RequireRole(auth.RolePatient))
	api.GET("/reports/:id/download", h.DownloadReport)

	api.GET("/history/me", h.MyHistory, auth.RequireRole(auth.RolePatient))
	api.GET("/patients/:id/history", h.PatientHistory, auth.RequireRole(auth.RoleDoctor))
	api.GET("/medications", h.SearchMedications, auth.RequireRole(auth.RoleDoctor))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrReportNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrImmutable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrDuplicatePrescription):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrNoRelationship):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge), errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPrescription(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.UpdatePrescription(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetAppointmentPrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPrescriptionByAppointment(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListMyPrescriptions(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	prescriptions, err := h.svc.ListPrescriptions(c.Request().Context(), userID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, prescriptions)
}

func (h *Handler) UploadReport(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	var extracted json.RawMessage
	if raw := c.FormValue("extracted_data"); raw != "" {
		if !json.Valid([]byte(raw)) {
			return echo.NewHTTPError(http.StatusBadRequest, "extracted_data must be valid JSON")
		}
		extracted = json.RawMessage(raw)
	}

	report, err := h.svc.UploadReport(c.Request().Context(), ReportUpload{
		PatientID:     userID,
		Title:         c.FormValue("title"),
		FileName:      file.Filename,
		ContentType:   file.Header.Get("Content-Type"),
		Content:       src,
		ExtractedData: extracted,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, report)
}

func (h *Handler) ListMyReports(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	reports, err := h.svc.ListReports(c.Request().Context(), userID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, reports)
}

func (h *Handler) DownloadReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rc, report, err := h.svc.DownloadReport(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+report.FileName+`"`)
	return c.Stream(http.StatusOK, report.ContentType, rc)
}

func (h *Handler) MyHistory(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	history, err := h.svc.History(c.Request().Context(), userID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) PatientHistory(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	history, err := h.svc.History(c.Request().Context(), patientID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) SearchMedications(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	entries, err := h.svc.SearchMedications(c.Request().Context(), c.QueryParam("q"), limit)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, entries)
}
