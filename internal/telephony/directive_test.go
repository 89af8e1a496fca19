package telephony

import (
	"strings"
	"testing"
)

func TestRender_ConnectClient(t *testing.T) {
	out, err := Render(Directive{Action: DirectiveConnect, ConnectTo: "client:agent-7"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Client>agent-7</Client>") {
		t.Fatalf("expected client dial, got %s", out)
	}
}

func TestRender_ConnectNumber(t *testing.T) {
	out, err := Render(Directive{Action: DirectiveConnect, ConnectTo: "+15551234567"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Number>+15551234567</Number>") {
		t.Fatalf("expected number dial, got %s", out)
	}
}

func TestRender_ConnectRequiresTarget(t *testing.T) {
	if _, err := Render(Directive{Action: DirectiveConnect}); err == nil {
		t.Fatalf("expected error for empty connect target")
	}
}

func TestRender_AcceptIsEmptyResponse(t *testing.T) {
	out, err := Render(Directive{Action: DirectiveAccept})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Response") {
		t.Fatalf("expected response envelope, got %s", out)
	}
	if strings.Contains(out, "Dial") || strings.Contains(out, "Hangup") {
		t.Fatalf("expected no verbs, got %s", out)
	}
}

func TestRender_HangupWithPause(t *testing.T) {
	out, err := Render(Directive{Action: DirectiveHangup, PauseSeconds: 2})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, `<Pause length="2">`) && !strings.Contains(out, `<Pause length="2"/>`) {
		t.Fatalf("expected pause verb, got %s", out)
	}
	if !strings.Contains(out, "<Hangup") {
		t.Fatalf("expected hangup verb, got %s", out)
	}
}
