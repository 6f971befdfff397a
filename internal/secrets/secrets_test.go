package secrets

import (
	"context"
	"testing"
)

func TestInMemoryStore(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if _, err := store.GetSecret(ctx, "missing"); err == nil {
		t.Error("expected an error for a missing secret")
	}

	store.SetSecret("api-key", "sk-test-123")
	value, err := store.GetSecret(ctx, "api-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "sk-test-123" {
		t.Errorf("expected sk-test-123, got %s", value)
	}
}

func TestGetSecretJSON(t *testing.T) {
	store := NewInMemoryStore()
	store.SetSecret("creds", `{"username": "admin", "password": "secret"}`)

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := store.GetSecretJSON(context.Background(), "creds", &creds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.Username != "admin" || creds.Password != "secret" {
		t.Errorf("unexpected creds: %+v", creds)
	}
}

func TestLoadProviderCredentials(t *testing.T) {
	store := NewInMemoryStore()
	store.SetSecret("gateway/provider-keys", `{"openai_api_key": "sk-oai", "anthropic_api_key": "sk-ant"}`)

	creds, err := LoadProviderCredentials(context.Background(), store, "gateway/provider-keys")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.OpenAIKey != "sk-oai" {
		t.Errorf("expected sk-oai, got %s", creds.OpenAIKey)
	}
	if creds.AnthropicKey != "sk-ant" {
		t.Errorf("expected sk-ant, got %s", creds.AnthropicKey)
	}
}

func TestLoadProviderCredentials_Missing(t *testing.T) {
	store := NewInMemoryStore()

	if _, err := LoadProviderCredentials(context.Background(), store, "nope"); err == nil {
		t.Error("expected an error for a missing secret")
	}
}
