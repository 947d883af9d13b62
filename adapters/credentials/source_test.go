package credentials

import (
	"context"
	"testing"
)

func TestStaticSource(t *testing.T) {
	src := Static("tok-123")
	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "tok-123" {
		t.Errorf("token = %q", token)
	}

	if _, err := Static("").Token(context.Background()); err == nil {
		t.Error("empty static token was accepted")
	}
}

func TestEnvSourceReflectsRotation(t *testing.T) {
	t.Setenv("VOX_TEST_TOKEN", "first")
	src := FromEnv("VOX_TEST_TOKEN")

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "first" {
		t.Errorf("token = %q, want first", token)
	}

	t.Setenv("VOX_TEST_TOKEN", "second")
	token, err = src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token after rotation: %v", err)
	}
	if token != "second" {
		t.Errorf("token = %q, want second", token)
	}
}

func TestEnvSourceMissing(t *testing.T) {
	t.Setenv("VOX_TEST_TOKEN", "")
	if _, err := FromEnv("VOX_TEST_TOKEN").Token(context.Background()); err == nil {
		t.Error("empty environment token was accepted")
	}
}

func TestPreferUsesConfiguredTokenFirst(t *testing.T) {
	t.Setenv("VOX_TEST_TOKEN", "from-env")

	token, err := Prefer("from-config", "VOX_TEST_TOKEN").Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "from-config" {
		t.Errorf("token = %q, want from-config", token)
	}

	token, err = Prefer("", "VOX_TEST_TOKEN").Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "from-env" {
		t.Errorf("token = %q, want from-env", token)
	}
}
