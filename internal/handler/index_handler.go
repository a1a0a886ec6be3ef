package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/recall/internal/pkg/errcode"
	"github.com/xxxsen/recall/internal/pkg/response"
	"github.com/xxxsen/recall/internal/service"
)

type IndexHandler struct {
	index *service.IndexService
}

func NewIndexHandler(svc *service.IndexService) *IndexHandler {
	return &IndexHandler{index: svc}
}

type indexNoteRequest struct {
	NoteID  string   `json:"note_id"`
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
	Content string   `json:"content"`
}

func (h *IndexHandler) IndexNote(c *gin.Context) {
	var req indexNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	count, err := h.index.IndexNote(c.Request.Context(), getUserID(c), req.NoteID, req.Title, req.Tags, req.Content)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"note_id": req.NoteID, "chunks": count})
}

func (h *IndexHandler) DeindexNote(c *gin.Context) {
	noteID := c.Param("id")
	if err := h.index.DeindexNote(c.Request.Context(), getUserID(c), noteID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"note_id": noteID})
}

func (h *IndexHandler) DeindexUser(c *gin.Context) {
	userID := getUserID(c)
	if err := h.index.DeindexUser(c.Request.Context(), userID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": userID})
}

func (h *IndexHandler) Stats(c *gin.Context) {
	stats, err := h.index.Stats(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, stats)
}
