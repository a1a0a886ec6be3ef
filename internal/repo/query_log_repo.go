package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"
	"github.com/google/uuid"

	"github.com/xxxsen/recall/internal/model"
	"github.com/xxxsen/recall/internal/pkg/dbutil"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
	"github.com/xxxsen/recall/internal/pkg/timeutil"
)

// QueryLogRepo persists one row per retrieval call. Metric columns are
// write-once; only the feedback columns are ever updated.
type QueryLogRepo struct {
	db *sql.DB
}

func NewQueryLogRepo(db *sql.DB) *QueryLogRepo {
	return &QueryLogRepo{db: db}
}

var queryLogColumns = []string{
	"id", "user_id", "conversation_id", "query",
	"hybrid", "hyde", "multi_query", "rerank",
	"query_embed_ms", "vector_search_ms", "lexical_search_ms", "rerank_ms", "total_ms",
	"retrieved_count", "returned_count",
	"avg_similarity", "top_similarity", "avg_bm25", "avg_rerank_score",
	"feedback_signal", "feedback_category", "feedback_comment", "feedback_time",
	"ctime",
}

func (r *QueryLogRepo) Record(ctx context.Context, entry *model.QueryLogEntry) (string, error) {
	if entry == nil || entry.UserID == "" {
		return "", fmt.Errorf("%w: query log requires user_id", appErr.ErrInvalid)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Ctime == 0 {
		entry.Ctime = timeutil.NowUnix()
	}
	data := map[string]interface{}{
		"id":                entry.ID,
		"user_id":           entry.UserID,
		"conversation_id":   entry.ConversationID,
		"query":             entry.Query,
		"hybrid":            entry.Hybrid,
		"hyde":              entry.HyDE,
		"multi_query":       entry.MultiQuery,
		"rerank":            entry.Rerank,
		"query_embed_ms":    entry.QueryEmbedMs,
		"vector_search_ms":  entry.VectorSearchMs,
		"lexical_search_ms": entry.LexicalSearchMs,
		"rerank_ms":         entry.RerankMs,
		"total_ms":          entry.TotalMs,
		"retrieved_count":   entry.RetrievedCount,
		"returned_count":    entry.ReturnedCount,
		"avg_similarity":    entry.AvgSimilarity,
		"top_similarity":    entry.TopSimilarity,
		"avg_bm25":          entry.AvgBM25,
		"avg_rerank_score":  entry.AvgRerankScore,
		"feedback_signal":   entry.FeedbackSignal,
		"feedback_category": entry.FeedbackCategory,
		"feedback_comment":  entry.FeedbackComment,
		"feedback_time":     entry.FeedbackTime,
		"ctime":             entry.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("query_logs", []map[string]interface{}{data})
	if err != nil {
		return "", err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return "", fmt.Errorf("%w: record query log: %v", appErr.ErrStorage, err)
	}
	return entry.ID, nil
}

// AttachFeedback overwrites only the feedback columns of one entry owned
// by the user. Unknown ids return ErrNotFound and create nothing.
func (r *QueryLogRepo) AttachFeedback(ctx context.Context, userID, id string, feedback model.QueryFeedback) error {
	if userID == "" || id == "" {
		return fmt.Errorf("%w: user id and log id are required", appErr.ErrInvalid)
	}
	where := map[string]interface{}{
		"id":      id,
		"user_id": userID,
	}
	update := map[string]interface{}{
		"feedback_signal":   feedback.Signal,
		"feedback_category": feedback.Category,
		"feedback_comment":  feedback.Comment,
		"feedback_time":     timeutil.NowUnix(),
	}
	sqlStr, args, err := builder.BuildUpdate("query_logs", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("%w: attach feedback: %v", appErr.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: attach feedback: %v", appErr.ErrStorage, err)
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// ListForUser returns the user's entries newest first, optionally bounded
// to ctime >= since.
func (r *QueryLogRepo) ListForUser(ctx context.Context, userID string, since int64, limit uint) ([]model.QueryLogEntry, error) {
	where := map[string]interface{}{
		"user_id": userID,
	}
	return r.list(ctx, where, since, limit)
}

// ListWithFeedback returns only entries that have user feedback attached.
func (r *QueryLogRepo) ListWithFeedback(ctx context.Context, userID string, since int64, limit uint) ([]model.QueryLogEntry, error) {
	where := map[string]interface{}{
		"user_id":            userID,
		"feedback_signal !=": "",
	}
	return r.list(ctx, where, since, limit)
}

// AnnotatedUserIDs lists users owning feedback-annotated entries with
// ctime >= since. The export job fans out from here through the
// user-scoped ListWithFeedback, one partition at a time.
func (r *QueryLogRepo) AnnotatedUserIDs(ctx context.Context, since int64) ([]string, error) {
	const query = `
		SELECT DISTINCT user_id
		FROM query_logs
		WHERE feedback_signal != '' AND ctime >= $1
		ORDER BY user_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("%w: list annotated users: %v", appErr.ErrStorage, err)
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("%w: scan user id: %v", appErr.ErrStorage, err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

func (r *QueryLogRepo) list(ctx context.Context, where map[string]interface{}, since int64, limit uint) ([]model.QueryLogEntry, error) {
	if since > 0 {
		where["ctime >="] = since
	}
	where["_orderby"] = "ctime desc, id desc"
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	sqlStr, args, err := builder.BuildSelect("query_logs", where, queryLogColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list query logs: %v", appErr.ErrStorage, err)
	}
	defer rows.Close()
	var results []model.QueryLogEntry
	for rows.Next() {
		var item model.QueryLogEntry
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.ConversationID, &item.Query,
			&item.Hybrid, &item.HyDE, &item.MultiQuery, &item.Rerank,
			&item.QueryEmbedMs, &item.VectorSearchMs, &item.LexicalSearchMs, &item.RerankMs, &item.TotalMs,
			&item.RetrievedCount, &item.ReturnedCount,
			&item.AvgSimilarity, &item.TopSimilarity, &item.AvgBM25, &item.AvgRerankScore,
			&item.FeedbackSignal, &item.FeedbackCategory, &item.FeedbackComment, &item.FeedbackTime,
			&item.Ctime,
		); err != nil {
			return nil, fmt.Errorf("%w: scan query log: %v", appErr.ErrStorage, err)
		}
		results = append(results, item)
	}
	return results, rows.Err()
}
