package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/recall/internal/model"
	"github.com/xxxsen/recall/internal/pkg/errcode"
	"github.com/xxxsen/recall/internal/pkg/response"
	"github.com/xxxsen/recall/internal/retrieval"
	"github.com/xxxsen/recall/internal/service"
)

type RetrievalHandler struct {
	retrieval *service.RetrievalService
}

func NewRetrievalHandler(svc *service.RetrievalService) *RetrievalHandler {
	return &RetrievalHandler{retrieval: svc}
}

type searchRequest struct {
	Query               string   `json:"query"`
	ConversationID      string   `json:"conversation_id"`
	TopK                int      `json:"top_k"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	EnableHybrid        bool     `json:"enable_hybrid"`
	EnableHyDE          bool     `json:"enable_hyde"`
	EnableMultiQuery    bool     `json:"enable_multi_query"`
	MultiQueryCount     int      `json:"multi_query_count"`
	EnableRerank        bool     `json:"enable_rerank"`
	RerankTopM          int      `json:"rerank_top_m"`
}

func (h *RetrievalHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	result, err := h.retrieval.Retrieve(c.Request.Context(), getUserID(c), req.ConversationID, req.Query, retrieval.Options{
		TopK:                req.TopK,
		SimilarityThreshold: req.SimilarityThreshold,
		EnableHybrid:        req.EnableHybrid,
		EnableHyDE:          req.EnableHyDE,
		EnableMultiQuery:    req.EnableMultiQuery,
		MultiQueryCount:     req.MultiQueryCount,
		EnableRerank:        req.EnableRerank,
		RerankTopM:          req.RerankTopM,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

type feedbackRequest struct {
	QueryLogID string `json:"query_log_id"`
	Signal     string `json:"signal"`
	Category   string `json:"category"`
	Comment    string `json:"comment"`
}

func (h *RetrievalHandler) Feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	err := h.retrieval.SubmitFeedback(c.Request.Context(), getUserID(c), req.QueryLogID, model.QueryFeedback{
		Signal:   req.Signal,
		Category: req.Category,
		Comment:  req.Comment,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"query_log_id": req.QueryLogID})
}

func (h *RetrievalHandler) ListLogs(c *gin.Context) {
	since := parseInt64(c.Query("since"))
	limit := parseUint(c.Query("limit"), 50)
	onlyFeedback := c.Query("only_feedback") == "true"
	entries, err := h.retrieval.ListQueryLogs(c.Request.Context(), getUserID(c), since, limit, onlyFeedback)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"entries": entries})
}
