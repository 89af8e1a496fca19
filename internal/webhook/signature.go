package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
)

// Transport signature, Twilio scheme: base64(HMAC-SHA1(authToken,
// fullURL + concat(sortedFormKeys, key+value))). Verified as defense in
// depth whenever identity resolution did not already rely on the signed
// capability token.
//
// Known limitation, preserved deliberately: callback URLs carrying query
// parameters can break the provider's signing surface behind some proxies,
// which is why token-validated requests skip this check. See DESIGN.md.

// ComputeTransportSignature builds the expected signature for a request.
func ComputeTransportSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(fullURL))
	for _, k := range keys {
		for _, v := range form[k] {
			mac.Write([]byte(k))
			mac.Write([]byte(v))
		}
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidTransportSignature compares in constant time.
func ValidTransportSignature(authToken, fullURL string, form url.Values, provided string) bool {
	if provided == "" {
		return false
	}
	want := ComputeTransportSignature(authToken, fullURL, form)
	return hmac.Equal([]byte(want), []byte(provided))
}
