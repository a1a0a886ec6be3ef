package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/filestore"
	"github.com/xxxsen/recall/internal/model"
)

// QueryLogSource is the slice of the query log repo the export job needs.
// Every read stays inside one user partition: the job enumerates user ids
// and then pulls each user's annotated entries through the scoped list.
type QueryLogSource interface {
	AnnotatedUserIDs(ctx context.Context, since int64) ([]string, error)
	ListWithFeedback(ctx context.Context, userID string, since int64, limit uint) ([]model.QueryLogEntry, error)
}

// QueryLogExportJob ships annotated query logs to the file store as JSONL
// snapshots, one file per user per run. Each run picks up where the
// previous one left off; the watermark is in-memory, so a restart
// re-exports the current window, which downstream consumers must tolerate.
type QueryLogExportJob struct {
	source    QueryLogSource
	store     filestore.Store
	watermark atomic.Int64
}

func NewQueryLogExportJob(source QueryLogSource, store filestore.Store) *QueryLogExportJob {
	return &QueryLogExportJob{source: source, store: store}
}

func (j *QueryLogExportJob) Name() string {
	return "query_log_export"
}

func (j *QueryLogExportJob) Run(ctx context.Context) error {
	if j.source == nil || j.store == nil {
		return nil
	}
	since := j.watermark.Load()
	now := time.Now()
	users, err := j.source.AnnotatedUserIDs(ctx, since)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		logutil.GetLogger(ctx).Info("no annotated query logs to export")
		return nil
	}
	stamp := now.UTC().Format("20060102-150405")
	total := 0
	for _, userID := range users {
		entries, err := j.source.ListWithFeedback(ctx, userID, since, 0)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			continue
		}
		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		for _, entry := range entries {
			if err := encoder.Encode(entry); err != nil {
				return fmt.Errorf("encode query log %s: %w", entry.ID, err)
			}
		}
		key := fmt.Sprintf("query_logs/%s/annotated-%s.jsonl", userID, stamp)
		reader := nopReadSeekCloser{bytes.NewReader(buf.Bytes())}
		if err := j.store.Save(ctx, key, reader, int64(buf.Len())); err != nil {
			return fmt.Errorf("save export %s: %w", key, err)
		}
		total += len(entries)
	}
	j.watermark.Store(now.Unix())
	logutil.GetLogger(ctx).Info("query logs exported",
		zap.Int("users", len(users)),
		zap.Int("entries", total),
	)
	return nil
}

type nopReadSeekCloser struct {
	*bytes.Reader
}

func (nopReadSeekCloser) Close() error {
	return nil
}

var _ io.ReadSeeker = nopReadSeekCloser{}
