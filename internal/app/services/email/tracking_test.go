package email

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackingLinker_ClickURLVerifies(t *testing.T) {
	linker := NewTrackingLinker("https://engine.example.com", []byte("session-secret"))

	clickURL := linker.ClickURL(42, "https://billing.example.com/update")
	require.Contains(t, clickURL, "logId=42")

	require.True(t, linker.VerifyClick("https://billing.example.com/update", 42, extractSig(t, clickURL)))
}

func TestTrackingLinker_VerifyClick_RejectsTamperedTarget(t *testing.T) {
	linker := NewTrackingLinker("https://engine.example.com", []byte("session-secret"))
	clickURL := linker.ClickURL(42, "https://billing.example.com/update")
	sig := extractSig(t, clickURL)

	require.False(t, linker.VerifyClick("https://attacker.example.com/update", 42, sig))
}

func extractSig(t *testing.T, rawURL string) string {
	t.Helper()
	const marker = "sig="
	idx := len(rawURL)
	for i := 0; i+len(marker) <= len(rawURL); i++ {
		if rawURL[i:i+len(marker)] == marker {
			idx = i + len(marker)
			break
		}
	}
	end := idx
	for end < len(rawURL) && rawURL[end] != '&' {
		end++
	}
	return rawURL[idx:end]
}
