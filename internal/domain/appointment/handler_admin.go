package appointment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/booking/internal/platform/auth"
	"github.com/clinicdesk/booking/pkg/pagination"
)

// RegisterAdminRoutes mounts schedule configuration under admin. The caller
// installs authentication on the group; roles are checked here.
func (h *Handler) RegisterAdminRoutes(admin *echo.Group) {
	read := admin.Group("", auth.RequireRole("admin", "receptionist"))
	read.GET("/closures", h.ListClosures)
	read.GET("/working-days", h.ListWorkingDays)

	write := admin.Group("", auth.RequireRole("admin"))
	write.POST("/closures", h.AddClosure)
	write.DELETE("/closures/:id", h.DeleteClosure)
	write.PUT("/working-days/:day", h.SetWorkingDay)
}

func actor(c echo.Context) (string, error) {
	id := auth.UserIDFromContext(c.Request().Context())
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authenticated user required")
	}
	return id, nil
}

// writeError maps configuration errors: missing rows to 404, storage
// failures to 503, anything else to 400.
func (h *Handler) writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case IsSystem(err):
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("schedule configuration failed")
		return c.JSON(http.StatusServiceUnavailable, VerdictOf(err))
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) ListClosures(c echo.Context) error {
	scope := ClosureScope(c.QueryParam("scope"))
	if scope == "" {
		scope = ClosureClinic
	}
	from, err := dateQuery(c, "from", h.today())
	if err != nil {
		return err
	}
	to, err := dateQuery(c, "to", from.AddDays(365))
	if err != nil {
		return err
	}
	closures, err := h.svc.ListClosures(c.Request().Context(), scope, from, to)
	if err != nil {
		return h.writeError(c, err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(closures, pg), len(closures), pg))
}

func (h *Handler) AddClosure(c echo.Context) error {
	who, err := actor(c)
	if err != nil {
		return err
	}
	var cd ClosureDate
	if err := c.Bind(&cd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid closure")
	}
	if err := h.svc.AddClosure(c.Request().Context(), who, &cd); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, cd)
}

func (h *Handler) DeleteClosure(c echo.Context) error {
	who, err := actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteClosure(c.Request().Context(), who, id); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListWorkingDays(c echo.Context) error {
	rules, err := h.svc.ListWorkingDays(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, rules)
}

func (h *Handler) SetWorkingDay(c echo.Context) error {
	who, err := actor(c)
	if err != nil {
		return err
	}
	day, err := ParseWeekday(c.Param("day"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var body struct {
		IsWorking       bool `json:"is_working"`
		MaxAppointments int  `json:"max_appointments"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid working day")
	}
	rule := WorkingDayRule{Day: Weekday(day), IsWorking: body.IsWorking, MaxAppointments: body.MaxAppointments}
	if err := h.svc.SetWorkingDay(c.Request().Context(), who, &rule); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}
