package adminhandler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lobbybroker/internal/broker"
)

type Handler struct {
	broker *broker.Broker
}

func New(b *broker.Broker) *Handler { return &Handler{broker: b} }

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/admin/bans", h.list)
	r.POST("/admin/bans", h.add)
	r.DELETE("/admin/bans", h.remove)
}

func (h *Handler) list(c *gin.Context) {
	c.JSON(http.StatusOK, h.broker.Bans())
}

func (h *Handler) add(c *gin.Context) {
	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if !h.broker.AddBan(req.Kind, req.Value) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid ban"})
		return
	}
	c.JSON(http.StatusOK, AckResponse{Ok: true})
}

func (h *Handler) remove(c *gin.Context) {
	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if !h.broker.RemoveBan(req.Kind, req.Value) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ban not found"})
		return
	}
	c.JSON(http.StatusOK, AckResponse{Ok: true})
}
