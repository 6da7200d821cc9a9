package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/storage"
)

func (s *Store) encryptToken(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	return s.cipher.Encrypt([]byte(plaintext))
}

// decryptToken returns the decrypted token. A decryption
// failure surfaces the raw ciphertext (as a string) rather than raising, so
// one unrecoverable row never halts other merchant reads; callers that log
// this path should redact the value.
func (s *Store) decryptToken(ciphertext []byte) string {
	if len(ciphertext) == 0 {
		return ""
	}
	plaintext, err := s.cipher.Decrypt(ciphertext)
	if err != nil {
		return string(ciphertext)
	}
	return string(plaintext)
}

func (s *Store) CreateMerchant(ctx context.Context, m merchant.Merchant) (merchant.Merchant, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.PlanID == "" {
		m.PlanID = "FREE"
	}
	if m.Tier == "" {
		m.Tier = "standard"
	}

	accessEnc, err := s.encryptToken(string(m.AccessTokenEnc))
	if err != nil {
		return merchant.Merchant{}, fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := s.encryptToken(string(m.RefreshTokenEnc))
	if err != nil {
		return merchant.Merchant{}, fmt.Errorf("encrypt refresh token: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO merchants (
			id, auth_user_id, email, connected_account_id, platform_customer_id,
			access_token_enc, refresh_token_enc, oauth_state, tier, plan_id,
			from_name, support_email, brand_color, logo_url, billing_country,
			billing_address, subscription_plan_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (auth_user_id) DO NOTHING
	`,
		m.ID, nullString(m.AuthUserID), nullString(m.Email), nullString(m.ConnectedAccountID), nullString(m.PlatformCustomerID),
		accessEnc, refreshEnc, nullString(m.OAuthState), m.Tier, m.PlanID,
		nullString(m.FromName), nullString(m.SupportEmail), nullString(m.BrandColor), nullString(m.LogoURL), nullString(m.BillingCountry),
		nullString(m.BillingAddress), nullString(m.SubscriptionPlanID), m.CreatedAt,
	)
	if err != nil {
		return merchant.Merchant{}, fmt.Errorf("insert merchant: %w", err)
	}

	// Racy-safe auto-provisioning: a concurrent insert on the same
	// auth_user_id resolves as a no-op above; fall back to a read so both
	// callers observe the winning row.
	if m.AuthUserID != "" {
		return s.GetMerchantByAuthUserID(ctx, m.AuthUserID)
	}
	return s.GetMerchant(ctx, m.ID)
}

const merchantSelectColumns = `
	id, auth_user_id, email, connected_account_id, platform_customer_id,
	access_token_enc, refresh_token_enc, oauth_state, tier, plan_id,
	from_name, support_email, brand_color, logo_url, billing_country,
	billing_address, subscription_plan_id, created_at
`

func (s *Store) scanMerchant(row interface{ Scan(...interface{}) error }) (merchant.Merchant, error) {
	var (
		m                                                                                                    merchant.Merchant
		authUserID, email, connectedAccountID, platformCustomerID, oauthState                                sql.NullString
		fromName, supportEmail, brandColor, logoURL, billingCountry, billingAddress, subscriptionPlanID       sql.NullString
		accessEnc, refreshEnc                                                                                 []byte
	)
	if err := row.Scan(
		&m.ID, &authUserID, &email, &connectedAccountID, &platformCustomerID,
		&accessEnc, &refreshEnc, &oauthState, &m.Tier, &m.PlanID,
		&fromName, &supportEmail, &brandColor, &logoURL, &billingCountry,
		&billingAddress, &subscriptionPlanID, &m.CreatedAt,
	); err != nil {
		return merchant.Merchant{}, err
	}
	m.AuthUserID = authUserID.String
	m.Email = email.String
	m.ConnectedAccountID = connectedAccountID.String
	m.PlatformCustomerID = platformCustomerID.String
	m.OAuthState = oauthState.String
	m.FromName = fromName.String
	m.SupportEmail = supportEmail.String
	m.BrandColor = brandColor.String
	m.LogoURL = logoURL.String
	m.BillingCountry = billingCountry.String
	m.BillingAddress = billingAddress.String
	m.SubscriptionPlanID = subscriptionPlanID.String
	m.AccessTokenEnc = []byte(s.decryptToken(accessEnc))
	m.RefreshTokenEnc = []byte(s.decryptToken(refreshEnc))
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (s *Store) GetMerchant(ctx context.Context, id string) (merchant.Merchant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+merchantSelectColumns+` FROM merchants WHERE id = $1`, id)
	m, err := s.scanMerchant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return merchant.Merchant{}, storage.ErrNotFound
	}
	return m, err
}

func (s *Store) GetMerchantByAuthUserID(ctx context.Context, authUserID string) (merchant.Merchant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+merchantSelectColumns+` FROM merchants WHERE auth_user_id = $1`, authUserID)
	m, err := s.scanMerchant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return merchant.Merchant{}, storage.ErrNotFound
	}
	return m, err
}

func (s *Store) GetMerchantByConnectedAccountID(ctx context.Context, connectedAccountID string) (merchant.Merchant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+merchantSelectColumns+` FROM merchants WHERE connected_account_id = $1`, connectedAccountID)
	m, err := s.scanMerchant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return merchant.Merchant{}, storage.ErrNotFound
	}
	return m, err
}

func (s *Store) GetMerchantByPlatformCustomerID(ctx context.Context, platformCustomerID string) (merchant.Merchant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+merchantSelectColumns+` FROM merchants WHERE platform_customer_id = $1`, platformCustomerID)
	m, err := s.scanMerchant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return merchant.Merchant{}, storage.ErrNotFound
	}
	return m, err
}

func (s *Store) UpdateMerchant(ctx context.Context, m merchant.Merchant) (merchant.Merchant, error) {
	accessEnc, err := s.encryptToken(string(m.AccessTokenEnc))
	if err != nil {
		return merchant.Merchant{}, fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := s.encryptToken(string(m.RefreshTokenEnc))
	if err != nil {
		return merchant.Merchant{}, fmt.Errorf("encrypt refresh token: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE merchants SET
			auth_user_id = $2, email = $3, connected_account_id = $4, platform_customer_id = $5,
			access_token_enc = $6, refresh_token_enc = $7, oauth_state = $8, tier = $9, plan_id = $10,
			from_name = $11, support_email = $12, brand_color = $13, logo_url = $14, billing_country = $15,
			billing_address = $16, subscription_plan_id = $17
		WHERE id = $1
	`,
		m.ID, nullString(m.AuthUserID), nullString(m.Email), nullString(m.ConnectedAccountID), nullString(m.PlatformCustomerID),
		accessEnc, refreshEnc, nullString(m.OAuthState), m.Tier, m.PlanID,
		nullString(m.FromName), nullString(m.SupportEmail), nullString(m.BrandColor), nullString(m.LogoURL), nullString(m.BillingCountry),
		nullString(m.BillingAddress), nullString(m.SubscriptionPlanID),
	)
	if err != nil {
		return merchant.Merchant{}, fmt.Errorf("update merchant: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return merchant.Merchant{}, storage.ErrNotFound
	}
	return s.GetMerchant(ctx, m.ID)
}

func (s *Store) ListMerchants(ctx context.Context) ([]merchant.Merchant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+merchantSelectColumns+` FROM merchants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	defer rows.Close()

	var out []merchant.Merchant
	for rows.Next() {
		m, err := s.scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMerchant removes the merchant row; usage_logs/daily_metrics/
// email_templates cascade via their FK ON DELETE CASCADE constraints. The
// tasks table has no FK to merchants, so the merchant's tasks are not
// removed here.
func (s *Store) DeleteMerchant(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM merchants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete merchant: %w", err)
	}
	return nil
}
