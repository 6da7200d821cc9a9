// Package email renders dunning and digest emails and talks to the
// delivery gateway, signing tracking links with the session HMAC key so
// opens and clicks can be attributed to a usage log without a database
// round trip on verification.
package email

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"

	appcrypto "github.com/riverbend/recoveryengine/internal/app/crypto"
)

// TrackingLinker builds the signed open/click tracking URLs embedded in
// outbound emails.
type TrackingLinker struct {
	publicBaseURL string
	sessionSecret []byte
}

// NewTrackingLinker builds a linker rooted at publicBaseURL (the externally
// reachable origin of this service) signing with sessionSecret.
func NewTrackingLinker(publicBaseURL string, sessionSecret []byte) *TrackingLinker {
	return &TrackingLinker{publicBaseURL: publicBaseURL, sessionSecret: sessionSecret}
}

// OpenURL returns the 1x1-pixel tracking URL for logID.
func (l *TrackingLinker) OpenURL(logID int64) string {
	return fmt.Sprintf("%s/track/open/%d", l.publicBaseURL, logID)
}

// ClickURL returns a signed redirect URL: visiting it increments the click
// counter for logID and then 302s to target.
func (l *TrackingLinker) ClickURL(logID int64, target string) string {
	sig := l.signClick(target, logID)
	v := url.Values{}
	v.Set("url", target)
	v.Set("logId", strconv.FormatInt(logID, 10))
	v.Set("sig", sig)
	return l.publicBaseURL + "/track/click?" + v.Encode()
}

// VerifyClick recomputes the signature for (target, logID) and reports
// whether it matches sig, using the same HMAC-SHA256(secret, url+":"+logId)
// scheme ClickURL signs with.
func (l *TrackingLinker) VerifyClick(target string, logID int64, sig string) bool {
	signature, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return appcrypto.HMACVerify(l.sessionSecret, []byte(l.clickMessage(target, logID)), signature)
}

func (l *TrackingLinker) signClick(target string, logID int64) string {
	mac := appcrypto.HMACSign(l.sessionSecret, []byte(l.clickMessage(target, logID)))
	return base64.RawURLEncoding.EncodeToString(mac)
}

func (l *TrackingLinker) clickMessage(target string, logID int64) string {
	return target + ":" + strconv.FormatInt(logID, 10)
}
