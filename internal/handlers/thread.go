package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"thread-sync/internal/directory"
	"thread-sync/internal/gate"
	"thread-sync/internal/models"
	"thread-sync/internal/remote"
	"thread-sync/internal/session"
	"thread-sync/internal/telemetry"
)

// ThreadHandler exposes session lifecycle, thread views and overlay
// visibility mutations.
type ThreadHandler struct {
	sessions *session.Manager
	gate     *gate.Gate
	emitter  *telemetry.AuditEmitter
}

// NewThreadHandler builds a ThreadHandler.
func NewThreadHandler(sessions *session.Manager, g *gate.Gate, emitter *telemetry.AuditEmitter) *ThreadHandler {
	return &ThreadHandler{sessions: sessions, gate: g, emitter: emitter}
}

// StartSession opens (or returns) the sync session for the caller.
func (h *ThreadHandler) StartSession(c *gin.Context) {
	userID := c.GetString("userID")

	s, err := h.sessions.StartForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(remoteStatus(err), gin.H{"error": "failed to start session", "detail": err.Error()})
		return
	}

	status, _ := s.Directory.Status()
	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}

// StopSession tears the caller's session down (sign-out).
func (h *ThreadHandler) StopSession(c *gin.Context) {
	userID := c.GetString("userID")
	h.sessions.Stop(userID)
	h.gate.Lock(userID)
	c.Status(http.StatusNoContent)
}

// ListThreads returns the filtered, searched, ordered thread view. The
// hidden view requires an unlocked gate.
func (h *ThreadHandler) ListThreads(c *gin.Context) {
	userID := c.GetString("userID")
	s, ok := h.sessions.Get(userID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "session not started"})
		return
	}

	filter := directory.ParseFilter(c.Query("filter"))
	if filter == directory.FilterHidden && !h.gate.Unlocked(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "hidden view locked", "code": "gate_locked"})
		return
	}

	threads := s.Directory.FilteredView(filter, userID, c.Query("q"))
	views := make([]models.ThreadView, 0, len(threads))
	for _, t := range threads {
		views = append(views, t.ViewFor(userID))
	}
	c.JSON(http.StatusOK, gin.H{"threads": views})
}

// SyncStatus reports the directory's connection state so clients can show
// "preparing" instead of a generic error while an index builds.
func (h *ThreadHandler) SyncStatus(c *gin.Context) {
	userID := c.GetString("userID")
	s, ok := h.sessions.Get(userID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": string(directory.StatusIdle)})
		return
	}

	status, lastErr := s.Directory.Status()
	resp := gin.H{"status": string(status)}
	if lastErr != nil {
		resp["error"] = lastErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// StartDirect creates or returns the direct thread with another user.
func (h *ThreadHandler) StartDirect(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	s, ok := h.sessions.Get(userID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "session not started"})
		return
	}

	t, err := s.Directory.EnsureDirectThread(c.Request.Context(), userID, req.ParticipantID)
	if err != nil {
		c.JSON(remoteStatus(err), gin.H{"error": "could not start thread", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread": t.ViewFor(userID)})
}

// CreateThread creates a group, event or support thread.
func (h *ThreadHandler) CreateThread(c *gin.Context) {
	var req struct {
		Title        string   `json:"title"`
		Participants []string `json:"participants" binding:"required"`
		Type         string   `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	typ := models.ThreadType(req.Type)
	switch typ {
	case models.ThreadGroup, models.ThreadEvent, models.ThreadSupport:
	case "":
		typ = models.ThreadGroup
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thread type"})
		return
	}

	userID := c.GetString("userID")
	s, ok := h.sessions.Get(userID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "session not started"})
		return
	}

	t, err := s.Directory.CreateThread(c.Request.Context(), userID, req.Title, req.Participants, typ)
	if err != nil {
		if errors.Is(err, directory.ErrTitleRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
			return
		}
		c.JSON(remoteStatus(err), gin.H{"error": "could not create thread", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"thread": t.ViewFor(userID)})
}

// ApplyVisibility toggles one overlay flag on one thread.
func (h *ThreadHandler) ApplyVisibility(c *gin.Context) {
	threadID := c.Param("thread_id")
	var req struct {
		Action string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mut, ok := parseMutation(req.Action)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action"})
		return
	}

	userID := c.GetString("userID")
	s, ok := h.sessions.Get(userID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "session not started"})
		return
	}

	if mut == directory.MutationHide {
		if !h.checkHideGate(c, userID) {
			return
		}
	}

	if err := s.Directory.ApplyVisibility(c.Request.Context(), threadID, userID, mut); err != nil {
		c.JSON(visibilityStatus(err), gin.H{"error": "mutation failed", "detail": err.Error()})
		return
	}

	if mut == directory.MutationSoftDelete {
		h.emitter.Emit(c.Request.Context(), "INFO", "thread soft-deleted", requestIDFromContext(c), userIDFromContext(c))
	}
	c.Status(http.StatusNoContent)
}

// BatchVisibility applies one action to many threads; each one succeeds or
// fails independently.
func (h *ThreadHandler) BatchVisibility(c *gin.Context) {
	var req struct {
		ThreadIDs []string `json:"thread_ids" binding:"required"`
		Action    string   `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mut, ok := parseMutation(req.Action)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action"})
		return
	}

	userID := c.GetString("userID")
	s, ok := h.sessions.Get(userID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "session not started"})
		return
	}

	if mut == directory.MutationHide {
		if !h.checkHideGate(c, userID) {
			return
		}
	}

	failed := s.Directory.ApplyVisibilityBatch(c.Request.Context(), req.ThreadIDs, userID, mut)
	failures := make(map[string]string, len(failed))
	for id, err := range failed {
		failures[id] = err.Error()
	}
	c.JSON(http.StatusOK, gin.H{
		"applied": len(req.ThreadIDs) - len(failed),
		"failed":  failures,
	})
}

// checkHideGate enforces the gate before a thread may transition into
// hidden: a credential must exist and the session must be unlocked.
func (h *ThreadHandler) checkHideGate(c *gin.Context, userID string) bool {
	present, err := h.gate.Present(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "gate check failed"})
		return false
	}
	if !present {
		c.JSON(http.StatusForbidden, gin.H{"error": "hidden gate not configured", "code": "gate_required"})
		return false
	}
	if !h.gate.Unlocked(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "hidden view locked", "code": "gate_locked"})
		return false
	}
	return true
}

func parseMutation(action string) (directory.VisibilityMutation, bool) {
	switch directory.VisibilityMutation(action) {
	case directory.MutationArchive, directory.MutationUnarchive,
		directory.MutationHide, directory.MutationUnhide,
		directory.MutationMute, directory.MutationUnmute,
		directory.MutationSoftDelete, directory.MutationMarkUnread:
		return directory.VisibilityMutation(action), true
	default:
		return "", false
	}
}

func visibilityStatus(err error) int {
	switch {
	case errors.Is(err, directory.ErrUnknownThread):
		return http.StatusNotFound
	case errors.Is(err, directory.ErrThreadDeleted):
		return http.StatusConflict
	default:
		return remoteStatus(err)
	}
}

func remoteStatus(err error) int {
	switch {
	case errors.Is(err, remote.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, remote.ErrIndexNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
