// Package merchant models a tenant of the recovery engine.
package merchant

import "time"

// SystemID is the literal merchant id used by singleton system tasks. It
// never corresponds to a row in the merchants table.
const SystemID = "system"

// Merchant is a tenant: the owner of an OAuth connection to PP, its own
// tasks, usage logs, daily rollups and email templates.
type Merchant struct {
	ID                  string
	AuthUserID          string // opaque id from the authentication provider; unique when set
	Email               string
	ConnectedAccountID  string // PP connected-account id; unique when set
	PlatformCustomerID  string // PP platform-customer id; unique when set
	AccessTokenEnc      []byte // AES-GCM ciphertext, nil until connected
	RefreshTokenEnc     []byte
	OAuthState          string // ephemeral CSRF state, cleared after callback
	Tier                string
	PlanID              string
	FromName            string
	SupportEmail        string
	BrandColor          string // hex, must match ^#[0-9A-Fa-f]{6}$
	LogoURL             string // must be https
	BillingCountry      string
	BillingAddress      string
	SubscriptionPlanID  string
	CreatedAt           time.Time
}

// Connected reports whether the merchant has an active PP OAuth connection.
func (m Merchant) Connected() bool {
	return m.ConnectedAccountID != ""
}

// PublicFields strips columns that must never leave the process: tokens,
// OAuth state, and the auth user id. Used for every HTTP response that
// echoes a merchant.
type PublicFields struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email,omitempty"`
	Tier               string    `json:"tier"`
	PlanID             string    `json:"planId"`
	Connected          bool      `json:"connected"`
	FromName           string    `json:"fromName,omitempty"`
	SupportEmail       string    `json:"supportEmail,omitempty"`
	BrandColor         string    `json:"brandColor,omitempty"`
	LogoURL            string    `json:"logoUrl,omitempty"`
	BillingCountry     string    `json:"billingCountry,omitempty"`
	BillingAddress     string    `json:"billingAddress,omitempty"`
	SubscriptionPlanID string    `json:"subscriptionPlanId,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Public projects a Merchant to its externally-safe representation.
func (m Merchant) Public() PublicFields {
	return PublicFields{
		ID:                 m.ID,
		Email:              m.Email,
		Tier:               m.Tier,
		PlanID:             m.PlanID,
		Connected:          m.Connected(),
		FromName:           m.FromName,
		SupportEmail:       m.SupportEmail,
		BrandColor:         m.BrandColor,
		LogoURL:            m.LogoURL,
		BillingCountry:     m.BillingCountry,
		BillingAddress:     m.BillingAddress,
		SubscriptionPlanID: m.SubscriptionPlanID,
		CreatedAt:          m.CreatedAt,
	}
}

// SettingsPatch is the whitelist of merchant fields a tenant may self-serve
// update via PATCH /merchants/:id. Email and tokens are deliberately absent.
type SettingsPatch struct {
	FromName       *string
	SupportEmail   *string
	BrandColor     *string
	LogoURL        *string
	BillingCountry *string
	BillingAddress *string
}

// Apply mutates m in place with any non-nil patch fields.
func (p SettingsPatch) Apply(m *Merchant) {
	if p.FromName != nil {
		m.FromName = *p.FromName
	}
	if p.SupportEmail != nil {
		m.SupportEmail = *p.SupportEmail
	}
	if p.BrandColor != nil {
		m.BrandColor = *p.BrandColor
	}
	if p.LogoURL != nil {
		m.LogoURL = *p.LogoURL
	}
	if p.BillingCountry != nil {
		m.BillingCountry = *p.BillingCountry
	}
	if p.BillingAddress != nil {
		m.BillingAddress = *p.BillingAddress
	}
}
