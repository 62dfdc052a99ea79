package api

import (
	"net/http"

	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/Domenick1991/stagebook/internal/service/performers"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type PerformerHandler struct {
	service performers.PerformerUseCase
	log     logrus.FieldLogger
}

type performerStatusRequest struct {
	Status string `json:"status"`
}

func NewPerformerHandler(service performers.PerformerUseCase, log logrus.FieldLogger) *PerformerHandler {
	return &PerformerHandler{service: service, log: log}
}

func (h *PerformerHandler) Register(router *gin.RouterGroup) {
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.PUT("/:id/status", h.updateStatus)
}

func (h *PerformerHandler) list(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *PerformerHandler) get(c *gin.Context) {
	performer, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, performer)
}

func (h *PerformerHandler) updateStatus(c *gin.Context) {
	var req performerStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		badRequest(c, "status is required")
		return
	}

	performer, err := h.service.UpdateStatus(c.Request.Context(), actorFrom(c), c.Param("id"), domain.PerformerStatus(req.Status))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, performer)
}
