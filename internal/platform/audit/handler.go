package audit

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cds/internal/platform/auth"
	"github.com/ehr/cds/pkg/pagination"
)

// Ownership confirms a doctor may read a patient's records.
type Ownership interface {
	EnsureAssigned(ctx context.Context, doctorID, patientID uuid.UUID) error
}

type Handler struct {
	events Lister
	owners Ownership
}

func NewHandler(events Lister, owners Ownership) *Handler {
	return &Handler{events: events, owners: owners}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:pid/audit-log", h.List, auth.RequireRole("physician"))
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	doctorID, err := auth.DoctorIDFromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	patientID, err := uuid.Parse(c.Param("pid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	if err := h.owners.EnsureAssigned(ctx, doctorID, patientID); err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	pg := pagination.FromContext(c)
	events, total, err := h.events.ListByPatient(ctx, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg))
}
