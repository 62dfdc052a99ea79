package api

import (
	"net/http"
	"strconv"

	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/Domenick1991/stagebook/internal/service/booking"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type BookingHandler struct {
	service booking.BookingUseCase
	log     logrus.FieldLogger
}

type updateStatusRequest struct {
	Status             string `json:"status"`
	CancellationReason string `json:"cancellationReason"`
}

type listBookingsResponse struct {
	Bookings []domain.BookingSnapshot `json:"bookings"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
}

func NewBookingHandler(service booking.BookingUseCase, log logrus.FieldLogger) *BookingHandler {
	return &BookingHandler{service: service, log: log}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.PUT("/:id/status", h.updateStatus)
	router.DELETE("/:id", h.delete)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req booking.CreateBookingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	b, err := h.service.CreateBooking(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, b.Snapshot())
}

func (h *BookingHandler) get(c *gin.Context) {
	b, err := h.service.GetBooking(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b.Snapshot())
}

func (h *BookingHandler) list(c *gin.Context) {
	filter := domain.BookingFilter{
		Status:    domain.BookingStatus(c.Query("status")),
		EventType: c.Query("type"),
	}
	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		badRequest(c, "limit must be a number")
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		badRequest(c, "offset must be a number")
		return
	}

	bookings, err := h.service.ListBookings(c.Request.Context(), actorFrom(c), filter)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	resp := listBookingsResponse{Bookings: make([]domain.BookingSnapshot, 0, len(bookings)), Limit: filter.Limit, Offset: filter.Offset}
	for i := range bookings {
		resp.Bookings = append(resp.Bookings, bookings[i].Snapshot())
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BookingHandler) updateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		badRequest(c, "status is required")
		return
	}

	b, err := h.service.UpdateStatus(c.Request.Context(), actorFrom(c), c.Param("id"), domain.BookingStatus(req.Status), req.CancellationReason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b.Snapshot())
}

func (h *BookingHandler) delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.DeleteBooking(c.Request.Context(), actorFrom(c), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
