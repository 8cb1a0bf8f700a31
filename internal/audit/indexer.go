package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"letter-wizard/internal/common/errors"
	"letter-wizard/internal/common/logger"
)

const defaultIndex = "sent-letters"

// Indexer mirrors letter records into Elasticsearch for search and
// reporting. Indexing is best-effort: the Postgres row is the record of
// truth.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	if index == "" {
		index = defaultIndex
	}
	return &Indexer{client: client, index: index, logger: log}
}

// IndexLetter indexes one record under its letter id, so retries overwrite
// rather than duplicate.
func (ix *Indexer) IndexLetter(ctx context.Context, rec *LetterRecord) *errors.StandardError {
	payload, err := json.Marshal(rec)
	if err != nil {
		return &errors.StandardError{
			Code:      errors.ErrCodeAuditIndexFailed,
			Message:   "Letter record could not be serialized",
			Details:   err.Error(),
			Retryable: false,
			Timestamp: rec.SubmittedAt,
		}
	}

	res, err := ix.client.Index(
		ix.index,
		bytes.NewReader(payload),
		ix.client.Index.WithContext(ctx),
		ix.client.Index.WithDocumentID(rec.LetterID),
	)
	if err != nil {
		ix.logger.Warn("Letter index request failed", map[string]interface{}{
			"letter_id": rec.LetterID,
			"error":     err.Error(),
		})
		return indexFailed(err.Error(), rec)
	}
	defer res.Body.Close()

	if res.IsError() {
		ix.logger.Warn("Letter index rejected", map[string]interface{}{
			"letter_id": rec.LetterID,
			"status":    res.Status(),
		})
		return indexFailed(fmt.Sprintf("elasticsearch returned %s", res.Status()), rec)
	}

	ix.logger.Debug("Letter indexed", map[string]interface{}{
		"letter_id": rec.LetterID,
		"index":     ix.index,
	})
	return nil
}

func indexFailed(details string, rec *LetterRecord) *errors.StandardError {
	return &errors.StandardError{
		Code:      errors.ErrCodeAuditIndexFailed,
		Message:   "Letter record could not be indexed",
		Details:   details,
		Retryable: true,
		Timestamp: rec.SubmittedAt,
	}
}
