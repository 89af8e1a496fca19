package credcache

import (
	"context"

	"dialer-platform/internal/telephony"
)

// RestProvisioner ensures the provider-side voice application exists for a
// user, using that user's own account credentials.
type RestProvisioner struct {
	// ProviderBaseURL overrides the provider API endpoint, for tests.
	ProviderBaseURL string

	// VoiceURL is where the provisioned application sends signaling
	// webhooks for calls placed from the user's client.
	VoiceURL string
}

func (p RestProvisioner) EnsureCallApplication(ctx context.Context, creds Credentials) (string, error) {
	client := telephony.NewRestProvider(creds.AccountSID, creds.AuthToken, p.ProviderBaseURL)
	return client.EnsureApplication(ctx, "dialer-app-"+creds.UserID, p.VoiceURL)
}

// Credentials returns only the cached credentials, for callers that verify
// signatures without needing the signaling client.
func (c *Cache) Credentials(ctx context.Context, userID string) (Credentials, error) {
	_, creds, err := c.Get(ctx, userID)
	return creds, err
}
