package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mossy-p/conference-signaling/internal/conference"
	"github.com/mossy-p/conference-signaling/internal/models"
)

// Handler serves the request/response surface and the push channel on top
// of a single coordinator.
type Handler struct {
	coord  *conference.Coordinator
	logger zerolog.Logger
}

func New(coord *conference.Coordinator, logger zerolog.Logger) *Handler {
	return &Handler{
		coord:  coord,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// GetState returns the current snapshot of every slot.
func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.State())
}

// RequestConnection starts a fresh session for the slot and returns its
// offer.
func (h *Handler) RequestConnection(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}

	offer, err := h.coord.RequestConnection(c.Request.Context(), slot)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OfferResponse{OfferSDP: offer})
}

// ApplyAnswer hands the client's answer to the slot's session.
func (h *Handler) ApplyAnswer(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}

	var answer models.SessionDescription
	if err := c.ShouldBindJSON(&answer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid answer: " + err.Error()})
		return
	}

	if err := h.coord.ApplyAnswer(c.Request.Context(), slot, answer); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{
		Status:  "success",
		Message: "Answer applied for " + string(slot),
	})
}

// CloseConnection tears the slot down. Unknown slots are accepted and
// ignored.
func (h *Handler) CloseConnection(c *gin.Context) {
	h.coord.CloseConnection(models.SlotName(c.Param("slot")))
	c.JSON(http.StatusOK, models.StatusResponse{Status: "success"})
}

func (h *Handler) CloseAll(c *gin.Context) {
	h.coord.CloseAll()
	c.JSON(http.StatusOK, models.StatusResponse{Status: "success"})
}

// ListCandidates returns the server-side candidates gathered so far. Idle
// and unknown slots have an empty list.
func (h *Handler) ListCandidates(c *gin.Context) {
	c.JSON(http.StatusOK, models.CandidatesResponse{
		Status:     "success",
		Candidates: h.coord.ListCandidates(models.SlotName(c.Param("slot"))),
	})
}

// AddCandidate forwards a client candidate. Candidates for unknown slots,
// or that arrive before or after the slot's session, are acknowledged as
// ignored.
func (h *Handler) AddCandidate(c *gin.Context) {
	slot := models.SlotName(c.Param("slot"))

	var rec models.CandidateRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid candidate: " + err.Error()})
		return
	}

	err := h.coord.AddCandidate(c.Request.Context(), slot, rec)
	switch {
	case errors.Is(err, conference.ErrNoActiveSession), errors.Is(err, models.ErrInvalidSlot):
		h.logger.Info().Err(err).Str("slot", string(slot)).Msg("candidate ignored")
		c.JSON(http.StatusOK, models.StatusResponse{Status: "ignored", Message: "No active session for " + string(slot)})
	case err != nil:
		h.writeError(c, err)
	default:
		c.JSON(http.StatusOK, models.StatusResponse{Status: "success"})
	}
}

func (h *Handler) DisplayStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.DisplayStatus())
}

func (h *Handler) slotParam(c *gin.Context) (models.SlotName, bool) {
	slot, err := models.ParseSlot(c.Param("slot"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return slot, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidSlot):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, conference.ErrNoActiveSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
