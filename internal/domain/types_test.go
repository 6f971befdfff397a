package domain

import "testing"

func TestTierWeight(t *testing.T) {
	cases := []struct {
		tier Tier
		want float64
	}{
		{TierFree, 0.7},
		{TierPro, 1.0},
		{TierEnterprise, 1.3},
		{Tier(""), 1.0},
	}

	for _, tc := range cases {
		if got := tc.tier.Weight(); got != tc.want {
			t.Errorf("Weight(%q) = %.1f, want %.1f", tc.tier, got, tc.want)
		}
	}
}

func TestRequestEnvelope_ContentLength(t *testing.T) {
	e := RequestEnvelope{Messages: []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "world"},
	}}

	if got := e.ContentLength(); got != 10 {
		t.Errorf("ContentLength() = %d, want 10", got)
	}
	if got := e.Turns(); got != 2 {
		t.Errorf("Turns() = %d, want 2", got)
	}
}

func TestProviderRecord_HasCapability(t *testing.T) {
	p := ProviderRecord{ID: "openai", Capabilities: []string{"chat", "completion"}}

	if !p.HasCapability("chat") {
		t.Error("expected chat capability")
	}
	if p.HasCapability("embedding") {
		t.Error("unexpected embedding capability")
	}
}

func TestUsageTotal(t *testing.T) {
	u := Usage{InputTokens: 30, OutputTokens: 70}
	if got := u.Total(); got != 100 {
		t.Errorf("Total() = %d, want 100", got)
	}
}
