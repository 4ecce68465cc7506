package summary

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cds/internal/domain/patient"
	"github.com/ehr/cds/internal/domain/rules"
	"github.com/ehr/cds/internal/platform/auth"
)

const maxContentBytes = 64 << 10

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts summary routes. :category accepts the six category
// names with either underscores or dashes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients/:pid/summary", auth.RequireRole("physician"))
	g.GET("", h.Overview)
	g.POST("/reconcile", h.Reconcile)
	g.GET("/ignored", h.ListIgnored)

	g.GET("/:category", h.List)
	g.POST("/:category", h.Create)
	g.GET("/:category/suggestions", h.Suggestions)
	g.PUT("/:category/items/:id", h.UpdateItem)
	g.PUT("/:category/catalog/:cid", h.ClaimSuggestion)
	g.DELETE("/:category/items/:id", h.Delete)
	g.POST("/:category/ignored", h.Ignore)
	g.DELETE("/:category/ignored/:key", h.Unignore)
}

type requestScope struct {
	doctorID  uuid.UUID
	patientID uuid.UUID
}

func parseScope(c echo.Context) (requestScope, error) {
	var s requestScope
	var err error
	s.doctorID, err = auth.DoctorIDFromContext(c.Request().Context())
	if err != nil {
		return s, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	s.patientID, err = uuid.Parse(c.Param("pid"))
	if err != nil {
		return s, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return s, nil
}

func parseCategory(c echo.Context) (rules.Category, error) {
	cat, err := rules.ParseCategory(c.Param("category"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return cat, nil
}

func readContent(c echo.Context) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxContentBytes))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return json.RawMessage(body), nil
}

func (h *Handler) Overview(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Overview(c.Request().Context(), s.doctorID, s.patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Reconcile(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	report, err := h.svc.Reconcile(c.Request().Context(), s.doctorID, s.patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) List(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	cat, err := parseCategory(c)
	if err != nil {
		return err
	}
	items, err := h.svc.List(c.Request().Context(), s.doctorID, s.patientID, cat)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Create(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	cat, err := parseCategory(c)
	if err != nil {
		return err
	}
	raw, err := readContent(c)
	if err != nil {
		return err
	}
	it, err := h.svc.Create(c.Request().Context(), s.doctorID, s.patientID, cat, raw)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, it)
}

func (h *Handler) UpdateItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return h.update(c, PatientItem(id))
}

// ClaimSuggestion edits a suggested catalog entry, turning it into an item
// the doctor owns.
func (h *Handler) ClaimSuggestion(c echo.Context) error {
	cid, err := strconv.ParseInt(c.Param("cid"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid catalog id")
	}
	return h.update(c, CatalogItem(cid))
}

func (h *Handler) update(c echo.Context, ref ItemRef) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	cat, err := parseCategory(c)
	if err != nil {
		return err
	}
	raw, err := readContent(c)
	if err != nil {
		return err
	}
	it, err := h.svc.UpdateItem(c.Request().Context(), s.doctorID, s.patientID, cat, ref, raw)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, it)
}

func (h *Handler) Delete(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	cat, err := parseCategory(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), s.doctorID, s.patientID, cat, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Suggestions(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	cat, err := parseCategory(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Suggestions(c.Request().Context(), s.doctorID, s.patientID, cat)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

type ignoreRequest struct {
	Key string `json:"key"`
}

func (h *Handler) Ignore(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	cat, err := parseCategory(c)
	if err != nil {
		return err
	}
	var req ignoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}
	if err := h.svc.Ignore(c.Request().Context(), s.doctorID, s.patientID, cat, req.Key); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListIgnored(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Ignored(c.Request().Context(), s.doctorID, s.patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Unignore(c echo.Context) error {
	s, err := parseScope(c)
	if err != nil {
		return err
	}
	cat, err := parseCategory(c)
	if err != nil {
		return err
	}
	if err := h.svc.Unignore(c.Request().Context(), s.doctorID, s.patientID, cat, c.Param("key")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidContent), errors.Is(err, ErrInvalidRef):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, patient.ErrNotAssigned):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnknownCategory),
		errors.Is(err, ErrCatalogEntryNotFound),
		errors.Is(err, ErrNotIgnored),
		errors.Is(err, patient.ErrNotFound),
		errors.Is(err, rules.ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateContent):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
