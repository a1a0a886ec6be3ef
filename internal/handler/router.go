package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/recall/internal/middleware"
)

type RouterDeps struct {
	Retrieval *RetrievalHandler
	Index     *IndexHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.Identity())

	authGroup.POST("/retrieval/search", deps.Retrieval.Search)
	authGroup.POST("/retrieval/feedback", deps.Retrieval.Feedback)
	authGroup.GET("/retrieval/logs", deps.Retrieval.ListLogs)

	authGroup.POST("/index/notes", deps.Index.IndexNote)
	authGroup.DELETE("/index/notes/:id", deps.Index.DeindexNote)
	authGroup.DELETE("/index/user", deps.Index.DeindexUser)
	authGroup.GET("/index/stats", deps.Index.Stats)
}

func parseInt64(value string) int64 {
	parsed, _ := strconv.ParseInt(value, 10, 64)
	return parsed
}

func parseUint(value string, fallback uint) uint {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fallback
	}
	return uint(parsed)
}
