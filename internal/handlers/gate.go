package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"thread-sync/internal/gate"
)

// GateHandler exposes the hidden-thread gate. Everything here is
// local-only; no route touches the remote layer.
type GateHandler struct {
	gate *gate.Gate
}

// NewGateHandler builds a GateHandler.
func NewGateHandler(g *gate.Gate) *GateHandler {
	return &GateHandler{gate: g}
}

// Status reports whether a credential exists and whether the session is
// unlocked.
func (h *GateHandler) Status(c *gin.Context) {
	userID := c.GetString("userID")

	present, err := h.gate.Present(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "gate check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"present": present, "unlocked": h.gate.Unlocked(userID)})
}

// Create sets the gate credential.
func (h *GateHandler) Create(c *gin.Context) {
	var req struct {
		PIN string `json:"pin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if err := h.gate.Create(c.Request.Context(), userID, req.PIN); err != nil {
		switch {
		case errors.Is(err, gate.ErrEmptyPIN):
			c.JSON(http.StatusBadRequest, gin.H{"error": "pin cannot be empty"})
		case errors.Is(err, gate.ErrWrongPIN):
			c.JSON(http.StatusForbidden, gin.H{"error": "unlock required to change pin"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save pin"})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// Verify checks the PIN and unlocks the session on success.
func (h *GateHandler) Verify(c *gin.Context) {
	var req struct {
		PIN string `json:"pin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if err := h.gate.Verify(c.Request.Context(), userID, req.PIN); err != nil {
		switch {
		case errors.Is(err, gate.ErrGateNotSet):
			c.JSON(http.StatusNotFound, gin.H{"error": "no pin set", "code": "gate_required"})
		case errors.Is(err, gate.ErrWrongPIN):
			c.JSON(http.StatusForbidden, gin.H{"error": "wrong pin"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "gate check failed"})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// Lock re-locks the session, for clients that re-prompt on foreground.
func (h *GateHandler) Lock(c *gin.Context) {
	h.gate.Lock(c.GetString("userID"))
	c.Status(http.StatusNoContent)
}
