package consultation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/sehatica/voxconsult/domain/repositories"
)

func TestSendReturnsReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/consultations/consult-3/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad body: %v", err)
		}
		if req.Text != "Apakah obat ini aman untuk ibu hamil?" {
			t.Errorf("text = %q", req.Text)
		}
		json.NewEncoder(w).Encode(messageResponse{Reply: "Sebaiknya konsultasikan dosisnya."})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	reply, err := client.Send(context.Background(), repositories.TextMessage{
		Text:           "Apakah obat ini aman untuk ibu hamil?",
		ConsultationID: "consult-3",
		Language:       "id-ID",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "Sebaiknya konsultasikan dosisnya." {
		t.Errorf("reply = %q", reply)
	}
}

func TestSendValidatesInput(t *testing.T) {
	client, err := NewClient(Config{APIKey: "test-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	tests := []struct {
		name string
		msg  repositories.TextMessage
	}{
		{"missing consultation id", repositories.TextMessage{Text: "halo"}},
		{"empty text", repositories.TextMessage{ConsultationID: "consult-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := client.Send(context.Background(), tt.msg); err == nil {
				t.Error("invalid message was accepted")
			}
		})
	}
}

func TestSendSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "consultation closed", http.StatusConflict)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Send(context.Background(), repositories.TextMessage{
		Text: "halo", ConsultationID: "consult-1",
	})
	if err == nil {
		t.Error("api error was not surfaced")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}, zaptest.NewLogger(t)); err == nil {
		t.Error("missing api key was accepted")
	}
}
