package webhook

import (
	"net/url"
	"testing"
)

func TestTransportSignature_RoundTrip(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "completed")
	form.Set("To", "+15557654321")

	const fullURL = "https://crm.example.com/webhooks/voice/status"
	sig := ComputeTransportSignature("authtok", fullURL, form)
	if !ValidTransportSignature("authtok", fullURL, form, sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestTransportSignature_WrongSecret(t *testing.T) {
	form := url.Values{"CallSid": {"CA123"}}
	sig := ComputeTransportSignature("authtok", "https://x.example/cb", form)
	if ValidTransportSignature("other", "https://x.example/cb", form, sig) {
		t.Fatalf("expected mismatch under different secret")
	}
}

func TestTransportSignature_TamperedParam(t *testing.T) {
	form := url.Values{"CallSid": {"CA123"}, "To": {"+15550001111"}}
	sig := ComputeTransportSignature("authtok", "https://x.example/cb", form)

	form.Set("To", "+15559999999")
	if ValidTransportSignature("authtok", "https://x.example/cb", form, sig) {
		t.Fatalf("expected mismatch after param tamper")
	}
}

func TestTransportSignature_EmptyProvidedRejected(t *testing.T) {
	if ValidTransportSignature("authtok", "https://x.example/cb", url.Values{}, "") {
		t.Fatalf("expected empty signature to fail")
	}
}
