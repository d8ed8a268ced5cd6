package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

func TestSendgridAdapterSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody sendgridRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sg-key" {
			t.Errorf("authorization = %q, want Bearer sg-key", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("X-Message-Id", "sg-msg-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	adapter, err := NewSendgridAdapter(domain.ProviderCredential{
		Config: map[string]string{
			"apiKey":   "sg-key",
			"from":     "noreply@example.com",
			"endpoint": server.URL,
		},
	})
	if err != nil {
		t.Fatalf("NewSendgridAdapter() error = %v", err)
	}

	receipt, err := adapter.Send(context.Background(), RenderedContent{
		Channel:    domain.ChannelEmail,
		Subscriber: domain.Subscriber{Email: "ada@example.com"},
		Content:    "welcome aboard",
	})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if receipt.MessageID != "sg-msg-1" {
		t.Fatalf("MessageID = %q, want sg-msg-1", receipt.MessageID)
	}
	if len(gotBody.Personalizations) != 1 || len(gotBody.Personalizations[0].To) != 1 {
		t.Fatalf("unexpected personalizations: %+v", gotBody.Personalizations)
	}
	if gotBody.Personalizations[0].To[0].Email != "ada@example.com" {
		t.Fatalf("to = %q, want ada@example.com", gotBody.Personalizations[0].To[0].Email)
	}
	if gotBody.Content[0].Value != "welcome aboard" {
		t.Fatalf("content = %q, want welcome aboard", gotBody.Content[0].Value)
	}
}

func TestSendgridAdapterMissingRecipientIsPermanent(t *testing.T) {
	t.Parallel()

	adapter, err := NewSendgridAdapter(domain.ProviderCredential{
		Config: map[string]string{"apiKey": "k", "from": "noreply@example.com"},
	})
	if err != nil {
		t.Fatalf("NewSendgridAdapter() error = %v", err)
	}

	_, err = adapter.Send(context.Background(), RenderedContent{
		Subscriber: domain.Subscriber{},
		Content:    "hi",
	})
	if err == nil {
		t.Fatal("Send() should fail for missing email")
	}
	if IsTransient(err) {
		t.Fatal("missing recipient must be permanent")
	}
}

func TestSendgridAdapterRequiresCredential(t *testing.T) {
	t.Parallel()

	_, err := NewSendgridAdapter(domain.ProviderCredential{Config: map[string]string{"from": "a@b.com"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}

	_, err = NewSendgridAdapter(domain.ProviderCredential{Config: map[string]string{"apiKey": "k"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}
