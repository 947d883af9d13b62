package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sehatica/voxconsult/domain/repositories"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	logger := zaptest.NewLogger(t)

	if _, err := NewClient(Config{}, logger); err == nil {
		t.Error("expected error when API key is not set")
	}

	client, err := NewClient(Config{APIKey: "test-api-key"}, logger)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.endpoint != defaultEndpoint {
		t.Errorf("endpoint = %q, want default", client.endpoint)
	}
	if client.chunkSize != defaultChunkSize {
		t.Errorf("chunk size = %d, want default %d", client.chunkSize, defaultChunkSize)
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("VOX_TTS_ENDPOINT", "https://tts.test/v1")
	t.Setenv("VOX_TTS_API_KEY", "env-key")
	t.Setenv("VOX_TTS_CHUNK_SIZE", "512")

	cfg := NewConfigFromEnv()
	if cfg.Endpoint != "https://tts.test/v1" {
		t.Errorf("endpoint = %q", cfg.Endpoint)
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("api key = %q", cfg.APIKey)
	}
	if cfg.ChunkSize != 512 {
		t.Errorf("chunk size = %d, want 512", cfg.ChunkSize)
	}
}

func TestSynthesizeStreamsAudio(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 600)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-api-key" {
			t.Errorf("authorization header = %q", r.Header.Get("Authorization"))
		}
		var req synthesisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Text != "Silakan istirahat yang cukup." {
			t.Errorf("text = %q", req.Text)
		}
		if req.Language != "id-ID" || req.Provider != "standard" {
			t.Errorf("language/provider = %q/%q", req.Language, req.Provider)
		}
		w.Header().Set("Content-Type", "audio/pcm")
		w.Write(pcm)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:    "test-api-key",
		Endpoint:  server.URL,
		ChunkSize: 1024,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	stream, err := client.Synthesize(context.Background(), repositories.SpeechRequest{
		Text:     "Silakan istirahat yang cukup.",
		Language: "id-ID",
		Provider: "standard",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	var got []byte
	for chunk := range stream {
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("streamed %d bytes, want %d identical bytes", len(got), len(pcm))
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	client, err := NewClient(Config{APIKey: "test-api-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Synthesize(context.Background(), repositories.SpeechRequest{Text: "   "}); err == nil {
		t.Error("empty text was accepted")
	}
}

func TestSynthesizeSurfacesServiceErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "synthesis quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-api-key", Endpoint: server.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Synthesize(context.Background(), repositories.SpeechRequest{Text: "halo"}); err == nil {
		t.Error("service error was not surfaced")
	}
}

func TestSynthesizeStopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/pcm")
		w.Write(bytes.Repeat([]byte{0xAA}, 1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(Config{APIKey: "test-api-key", Endpoint: server.URL, ChunkSize: 256}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.Synthesize(ctx, repositories.SpeechRequest{Text: "halo"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream not closed after cancellation")
		}
	}
}
