package identity

import "net/url"

// LogoutURL returns the provider's logout endpoint for domain. The browser
// is sent back to returnTo afterwards, which must be on the client's
// allowed logout list at the provider.
func LogoutURL(domain, clientID, returnTo string) string {
	return "https://" + domain + "/v2/logout?" +
		"returnTo=" + url.QueryEscape(returnTo) +
		"&client_id=" + url.QueryEscape(clientID)
}
