// Package audit records every sent letter: a durable row in Postgres and a
// searchable copy in Elasticsearch.
package audit

import (
	"context"
	"database/sql"
	"time"

	"letter-wizard/internal/common/errors"
	"letter-wizard/internal/common/logger"
)

// LetterRecord is the audit trail entry for one sent letter.
type LetterRecord struct {
	LetterID       string    `json:"letter_id"`
	SessionID      string    `json:"session_id"`
	Reason         string    `json:"reason"`
	BBL            string    `json:"bbl"`
	LandlordName   string    `json:"landlord_name"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	Locale         string    `json:"locale"`
	MailChoice     string    `json:"mail_choice"`
	EmailedCopies  int       `json:"emailed_copies"`
	SubmittedAt    time.Time `json:"submitted_at"`
	HTML           string    `json:"html"`
}

const insertLetterSQL = `
	INSERT INTO sent_letters (
		letter_id, session_id, reason, bbl, landlord_name,
		tracking_number, locale, mail_choice, emailed_copies, submitted_at, html
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (letter_id) DO NOTHING`

// Store writes letter records to Postgres.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

// InsertLetter records one letter. Re-inserting the same letter id is a
// no-op so retried audit writes stay safe.
func (s *Store) InsertLetter(ctx context.Context, rec *LetterRecord) *errors.StandardError {
	_, err := s.db.ExecContext(ctx, insertLetterSQL,
		rec.LetterID,
		rec.SessionID,
		rec.Reason,
		rec.BBL,
		rec.LandlordName,
		rec.TrackingNumber,
		rec.Locale,
		rec.MailChoice,
		rec.EmailedCopies,
		rec.SubmittedAt,
		rec.HTML,
	)
	if err != nil {
		s.logger.Error("Letter audit insert failed", map[string]interface{}{
			"letter_id": rec.LetterID,
			"error":     err.Error(),
		})
		return errors.NewDatabaseInsertFailedError(err)
	}

	s.logger.Info("Letter recorded", map[string]interface{}{
		"letter_id":  rec.LetterID,
		"session_id": rec.SessionID,
	})
	return nil
}
