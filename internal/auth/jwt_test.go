package auth

import (
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	signer, err := NewSigner([]byte("test-secret"), time.Hour)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	token, err := signer.Issue("consult-42", "user-9", "patient")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := signer.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.ConsultationID != "consult-42" {
		t.Errorf("consultation_id = %q, want consult-42", claims.ConsultationID)
	}
	if claims.UserID != "user-9" || claims.Role != "patient" {
		t.Errorf("user/role = %q/%q", claims.UserID, claims.Role)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewSigner([]byte("secret-a"), time.Hour)
	verifier, _ := NewSigner([]byte("secret-b"), time.Hour)

	token, err := issuer.Issue("consult-1", "user-1", "patient")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Validate(token); err == nil {
		t.Fatal("token signed with a different secret was accepted")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	signer, _ := NewSigner([]byte("test-secret"), time.Nanosecond)
	token, err := signer.Issue("consult-1", "user-1", "patient")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := signer.Validate(token); err == nil {
		t.Fatal("expired token was accepted")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	signer, _ := NewSigner([]byte("test-secret"), time.Hour)
	if _, err := signer.Validate("not.a.token"); err == nil {
		t.Fatal("garbage token was accepted")
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner(nil, time.Hour); err == nil {
		t.Fatal("empty secret was accepted")
	}
}
