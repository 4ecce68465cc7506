package clinical

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cds/internal/domain/patient"
	"github.com/ehr/cds/internal/domain/rules"
	"github.com/ehr/cds/internal/platform/auth"
	"github.com/ehr/cds/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts fact routes. :kind accepts symptoms,
// personal-history, vital-signs and tests.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("physician")

	g := api.Group("/patients/:pid/facts/:kind", role)
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.POST("/:id/resolve", h.Resolve)
	g.PATCH("/:id/value", h.UpdateValue)
	g.DELETE("/:id", h.Delete)

	api.GET("/dictionaries/:kind", h.Dictionary, role)
}

type scope struct {
	doctorID  uuid.UUID
	patientID uuid.UUID
	kind      rules.FactKind
}

func parseScope(c echo.Context) (scope, error) {
	var s scope
	var err error
	s.doctorID, err = auth.DoctorIDFromContext(c.Request().Context())
	if err != nil {
		return s, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	s.patientID, err = uuid.Parse(c.Param("pid"))
	if err != nil {
		return s, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	s.kind, err = rules.ParseFactKind(c.Param("kind"))
	if err != nil {
		return s, echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return s, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f, err := h.svc.Create(c.Request().Context(), s.doctorID, s.patientID, s.kind, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) List(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	filter := ListFilter{Limit: pg.Limit, Offset: pg.Offset}
	switch st := State(c.QueryParam("state")); st {
	case "":
	case StateActive, StateResolved:
		filter.State = &st
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "state must be active or resolved")
	}
	items, total, err := h.svc.List(c.Request().Context(), s.doctorID, s.patientID, s.kind, filter)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.Get(c.Request().Context(), s.doctorID, s.patientID, s.kind, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) Resolve(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.Resolve(c.Request().Context(), s.doctorID, s.patientID, s.kind, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) UpdateValue(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateValueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f, err := h.svc.UpdateValue(c.Request().Context(), s.doctorID, s.patientID, s.kind, id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) Delete(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), s.doctorID, s.patientID, s.kind, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Dictionary(c echo.Context) error {
	kind, err := rules.ParseFactKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	entries := h.svc.Dictionary(kind)
	if entries == nil {
		entries = []rules.DictionaryEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownDictionaryEntry),
		errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidValue),
		errors.Is(err, ErrValueNotAllowed):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, patient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, patient.ErrNotAssigned):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrDuplicateActive), errors.Is(err, ErrAlreadyResolved):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
