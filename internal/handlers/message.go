package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"thread-sync/internal/models"
	"thread-sync/internal/session"
	"thread-sync/internal/telemetry"
)

// maxAttachmentBytes bounds a single uploaded attachment.
const maxAttachmentBytes = 10 << 20

// MessageHandler exposes the open message stream and send paths.
type MessageHandler struct {
	sessions *session.Manager
	emitter  *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(sessions *session.Manager, emitter *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{sessions: sessions, emitter: emitter}
}

// OpenThread opens the live message stream for a thread the caller belongs
// to, marks it read, and returns the buffered log in display order.
func (h *MessageHandler) OpenThread(c *gin.Context) {
	threadID := c.Param("thread_id")
	userID := c.GetString("userID")

	s, t, ok := h.sessionThread(c, userID, threadID)
	if !ok {
		return
	}
	if t.DeletedBy.Has(userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}

	msgs, err := s.Stream.Open(c.Request.Context(), threadID)
	if err != nil {
		c.JSON(remoteStatus(err), gin.H{"error": "could not open thread", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// CloseThread closes whatever stream is open.
func (h *MessageHandler) CloseThread(c *gin.Context) {
	userID := c.GetString("userID")
	if s, ok := h.sessions.Get(userID); ok {
		s.Stream.Close()
	}
	c.Status(http.StatusNoContent)
}

// SendMessage sends a text or card message. A failed remote write still
// returns the buffered message, flagged failed, with a 502: the client
// shows it and offers retry.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	threadID := c.Param("thread_id")
	userID := c.GetString("userID")

	var req struct {
		Kind  string `json:"kind"`
		Text  string `json:"text"`
		RefID string `json:"ref_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	body, ok := buildBody(req.Kind, req.Text, req.RefID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message body"})
		return
	}

	s, t, ok := h.sessionThread(c, userID, threadID)
	if !ok {
		return
	}
	if t.DeletedBy.Has(userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}

	msg, err := s.Stream.Send(c.Request.Context(), threadID, userID, body)
	if err != nil {
		h.emitter.Emit(c.Request.Context(), "WARN", "message send failed", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusBadGateway, gin.H{"error": "send failed", "detail": err.Error(), "message": msg})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// SendAttachment uploads the file bytes, then sends the message referencing
// them. The optimistic append happens only after the upload succeeds.
func (h *MessageHandler) SendAttachment(c *gin.Context) {
	threadID := c.Param("thread_id")
	userID := c.GetString("userID")

	kind := models.BodyKind(c.PostForm("kind"))
	switch kind {
	case models.BodyImage, models.BodyEventCard, models.BodyPostCard:
	case "":
		kind = models.BodyImage
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment kind"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAttachmentBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	if len(data) > maxAttachmentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment too large"})
		return
	}

	s, t, ok := h.sessionThread(c, userID, threadID)
	if !ok {
		return
	}
	if t.DeletedBy.Has(userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}

	path := threadID + "/" + header.Filename
	msg, err := s.Stream.SendAttachment(c.Request.Context(), threadID, userID, data, path, kind, c.PostForm("caption"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "attachment send failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkRead zeroes the caller's unread count for the thread.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	threadID := c.Param("thread_id")
	userID := c.GetString("userID")

	s, _, ok := h.sessionThread(c, userID, threadID)
	if !ok {
		return
	}

	if err := s.Unread.MarkThreadRead(c.Request.Context(), threadID, userID); err != nil {
		// The local zeroing stuck; only the remote write failed.
		c.JSON(http.StatusBadGateway, gin.H{"error": "mark read not persisted", "detail": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkUnread flags the thread as unread for the caller.
func (h *MessageHandler) MarkUnread(c *gin.Context) {
	threadID := c.Param("thread_id")
	userID := c.GetString("userID")

	s, _, ok := h.sessionThread(c, userID, threadID)
	if !ok {
		return
	}

	if err := s.Unread.MarkThreadUnread(c.Request.Context(), threadID, userID); err != nil {
		c.JSON(visibilityStatus(err), gin.H{"error": "mark unread failed", "detail": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// TotalUnread returns the badge count.
func (h *MessageHandler) TotalUnread(c *gin.Context) {
	userID := c.GetString("userID")
	s, ok := h.sessions.Get(userID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "session not started"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": s.Unread.TotalUnread(userID)})
}

// sessionThread loads the caller's session and verifies thread membership.
func (h *MessageHandler) sessionThread(c *gin.Context, userID, threadID string) (*session.Session, models.Thread, bool) {
	s, ok := h.sessions.Get(userID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "session not started"})
		return nil, models.Thread{}, false
	}

	t, ok := s.Directory.Thread(threadID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return nil, models.Thread{}, false
	}
	if !t.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a thread participant"})
		return nil, models.Thread{}, false
	}
	return s, t, true
}

func buildBody(kind, text, refID string) (models.MessageBody, bool) {
	switch models.BodyKind(kind) {
	case models.BodyText, "":
		if text == "" {
			return models.MessageBody{}, false
		}
		return models.TextBody(text), true
	case models.BodyEventCard, models.BodyPostCard, models.BodyStoryReply, models.BodyStoryReaction:
		if refID == "" {
			return models.MessageBody{}, false
		}
		return models.MessageBody{Kind: models.BodyKind(kind), Text: text, RefID: refID}, true
	default:
		return models.MessageBody{}, false
	}
}
