package appointment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type Handler struct {
	svc     *Service
	refresh time.Duration
	origins map[string]bool
	logger  zerolog.Logger
}

// NewHandler serves the booking screens. refresh is the interval of the
// streamed slot refreshes.
func NewHandler(svc *Service, refresh time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, refresh: refresh, logger: logger}
}

// RegisterRoutes mounts the public booking endpoints. Patients and MRs book
// without staff accounts; their phone number is the identity.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	patient := api.Group("/patient")
	patient.GET("/slots", h.ListPatientSlots)
	patient.GET("/slots/stream", h.StreamPatientSlots)
	patient.GET("/slots/ws", h.WatchPatientSlots)
	patient.POST("/bookings/validate", h.ValidatePatientBooking)
	patient.POST("/bookings", h.CreatePatientBooking)

	mr := api.Group("/mr")
	mr.GET("/calendar", h.MRCalendar)
	mr.GET("/days/:date", h.MRDay)
	mr.POST("/bookings/validate", h.ValidateMRBooking)
	mr.POST("/bookings", h.CreateMRBooking)
}

// bookingResponse is a verdict plus the created booking, if any.
type bookingResponse struct {
	Verdict
	Booking *Booking `json:"booking,omitempty"`
}

// statusFor maps a verdict to its HTTP status; ok is used when authorized.
func statusFor(v Verdict, ok int) int {
	switch v.Status {
	case OutcomeAuthorized:
		return ok
	case OutcomeRejected:
		if v.Reason.Conflict() {
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	}
	return http.StatusServiceUnavailable
}

func parseDate(raw, name string) (civil.Date, error) {
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: expected YYYY-MM-DD", name))
	}
	return d, nil
}

// dateQuery reads an optional date query parameter, defaulting to def.
func dateQuery(c echo.Context, name string, def civil.Date) (civil.Date, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return parseDate(raw, name)
}

// readError renders an availability read failure. System errors never turn
// into an empty slot list.
func (h *Handler) readError(c echo.Context, err error) error {
	if IsSystem(err) {
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("availability read failed")
		return c.JSON(http.StatusServiceUnavailable, VerdictOf(err))
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) today() civil.Date {
	return h.svc.assembler.Today()
}

// -- Patient --

func (h *Handler) ListPatientSlots(c echo.Context) error {
	date, err := dateQuery(c, "date", h.today())
	if err != nil {
		return err
	}
	slots, err := h.svc.ComputeSlots(c.Request().Context(), date)
	if err != nil {
		return h.readError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"date": date, "slots": slots})
}

// StreamPatientSlots pushes a fresh slot list as a server-sent event on every
// refresh until the client disconnects.
func (h *Handler) StreamPatientSlots(c echo.Context) error {
	date, err := dateQuery(c, "date", h.today())
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	w := NewSlotWatcher(h.svc, date, h.refresh, h.logger)
	go w.Run(c.Request().Context())

	for snap := range w.Updates() {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		event := "slots"
		if snap.Err != nil {
			event = "error"
		}
		if _, err := fmt.Fprintf(res, "id: %d\nevent: %s\ndata: %s\n\n", snap.Generation, event, data); err != nil {
			return nil
		}
		res.Flush()
	}
	return nil
}

func (h *Handler) bindRequest(c echo.Context) (Request, error) {
	var req Request
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid booking request")
	}
	if !req.Date.IsValid() {
		return req, echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	return req, nil
}

func (h *Handler) validate(c echo.Context, flow Flow) error {
	req, err := h.bindRequest(c)
	if err != nil {
		return err
	}
	v := VerdictOf(h.svc.ValidateBooking(c.Request().Context(), flow, req))
	return c.JSON(statusFor(v, http.StatusOK), v)
}

func (h *Handler) book(c echo.Context, flow Flow) error {
	req, err := h.bindRequest(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Book(c.Request().Context(), flow, req)
	v := VerdictOf(err)
	return c.JSON(statusFor(v, http.StatusCreated), bookingResponse{Verdict: v, Booking: b})
}

func (h *Handler) ValidatePatientBooking(c echo.Context) error { return h.validate(c, FlowPatient) }

func (h *Handler) CreatePatientBooking(c echo.Context) error { return h.book(c, FlowPatient) }

// -- MR --

func (h *Handler) MRCalendar(c echo.Context) error {
	today := h.today()
	from, err := dateQuery(c, "from", today)
	if err != nil {
		return err
	}
	if from.Before(today) {
		from = today
	}
	to, err := dateQuery(c, "to", from.AddDays(30))
	if err != nil {
		return err
	}
	days, err := h.svc.MRCalendar(c.Request().Context(), from, to)
	if err != nil {
		return h.readError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"from": from, "to": to, "days": days})
}

func (h *Handler) MRDay(c echo.Context) error {
	date, err := parseDate(c.Param("date"), "date")
	if err != nil {
		return err
	}
	day, err := h.svc.MRDay(c.Request().Context(), date)
	if err != nil {
		return h.readError(c, err)
	}
	return c.JSON(http.StatusOK, day)
}

func (h *Handler) ValidateMRBooking(c echo.Context) error { return h.validate(c, FlowMR) }

func (h *Handler) CreateMRBooking(c echo.Context) error { return h.book(c, FlowMR) }
