package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/draftwire/draftwire/internal/pkg/errcode"
	"github.com/draftwire/draftwire/internal/pkg/response"
	"github.com/draftwire/draftwire/internal/service"
)

type DraftHandler struct {
	collab *service.CollabService
}

func NewDraftHandler(collab *service.CollabService) *DraftHandler {
	return &DraftHandler{collab: collab}
}

type createDraftRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Shared  bool   `json:"shared"`
}

func (h *DraftHandler) Create(c *gin.Context) {
	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.Title == "" {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "title required")
		return
	}
	detail, err := h.collab.CreateDraft(c.Request.Context(), getUserID(c), service.DraftCreateInput{
		Title:   req.Title,
		Content: req.Content,
		Shared:  req.Shared,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, detail)
}

func (h *DraftHandler) List(c *gin.Context) {
	limit := uint(0)
	if value := c.Query("limit"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			limit = uint(parsed)
		}
	}
	offset := uint(0)
	if value := c.Query("offset"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			offset = uint(parsed)
		}
	}
	drafts, err := h.collab.ListDrafts(c.Request.Context(), getUserID(c), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, drafts)
}

func (h *DraftHandler) Get(c *gin.Context) {
	detail, err := h.collab.GetDraft(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, detail)
}

func (h *DraftHandler) Delete(c *gin.Context) {
	if err := h.collab.DeleteDraft(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

type saveDraftRequest struct {
	Content         string `json:"content"`
	ExpectedVersion int    `json:"expected_version"`
}

// Save is the optimistic-concurrency write path. A version mismatch is not an
// error: it comes back as 409 with the server's current state so the client
// can auto-merge or ask the user.
func (h *DraftHandler) Save(c *gin.Context) {
	var req saveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.ExpectedVersion < 1 {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "expected_version required")
		return
	}
	outcome, err := h.collab.Save(c.Request.Context(), c.Param("id"), getUserID(c), req.Content, req.ExpectedVersion)
	if err != nil {
		handleError(c, err)
		return
	}
	if outcome.Conflict {
		c.JSON(http.StatusConflict, gin.H{
			"conflict":        true,
			"current_version": outcome.CurrentVersion,
			"server_content":  outcome.ServerContent,
		})
		return
	}
	response.Success(c, gin.H{"version": outcome.NewVersion, "content": req.Content})
}

// Activity is the pull path of the presence broadcaster; calling it also
// refreshes the caller's session.
func (h *DraftHandler) Activity(c *gin.Context) {
	snapshot, err := h.collab.Activity(c.Request.Context(), c.Param("id"), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, snapshot)
}
