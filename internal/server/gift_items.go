package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	giftitemdomain "github.com/savethedate/payments/internal/giftitem/domain"
)

type createGiftItemRequest struct {
	Name         string      `json:"name"`
	DesiredPrice json.Number `json:"desired_price"`
	Quantity     int         `json:"quantity"`
}

func (s *Server) CreateGiftItem(c *gin.Context) {
	var req createGiftItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.giftItemSvc.Create(c.Request.Context(), giftitemdomain.CreateRequest{
		EventID:      c.Param("event_id"),
		Name:         req.Name,
		DesiredPrice: req.DesiredPrice.String(),
		Quantity:     req.Quantity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, item)
}

func (s *Server) ListGiftItems(c *gin.Context) {
	items, err := s.giftItemSvc.ListByEvent(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []giftitemdomain.GiftItem{}
	}

	c.JSON(http.StatusOK, gin.H{"gift_items": items})
}
