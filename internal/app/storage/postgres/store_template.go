package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/riverbend/recoveryengine/internal/app/domain/template"
)

func (s *Store) UpsertEmailTemplate(ctx context.Context, t template.EmailTemplate) (template.EmailTemplate, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_templates (merchant_id, retry_attempt, subject, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (merchant_id, retry_attempt) DO UPDATE
		SET subject = EXCLUDED.subject, body = EXCLUDED.body
	`, t.MerchantID, int(t.RetryAttempt), t.Subject, t.Body)
	if err != nil {
		return template.EmailTemplate{}, fmt.Errorf("upsert email template: %w", err)
	}
	return t, nil
}

func (s *Store) GetEmailTemplate(ctx context.Context, merchantID string, attempt template.RetryAttempt) (template.EmailTemplate, bool, error) {
	var t template.EmailTemplate
	var retryAttempt int
	t.MerchantID = merchantID
	err := s.db.QueryRowContext(ctx, `
		SELECT merchant_id, retry_attempt, subject, body
		FROM email_templates
		WHERE merchant_id = $1 AND retry_attempt = $2
	`, merchantID, int(attempt)).Scan(&t.MerchantID, &retryAttempt, &t.Subject, &t.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return template.EmailTemplate{}, false, nil
	}
	if err != nil {
		return template.EmailTemplate{}, false, fmt.Errorf("get email template: %w", err)
	}
	t.RetryAttempt = template.RetryAttempt(retryAttempt)
	return t, true, nil
}
