package wire

import "testing"

func TestPluginResponseValidateRejectsErrorWithContinue(t *testing.T) {
	r := PluginResponse{Error: "policy", Continue: true}
	if err := r.Validate(); err == nil {
		t.Fatal("expected validation error when error is set alongside continue:true")
	}
}

func TestPluginResponseValidateAcceptsErrorHalting(t *testing.T) {
	r := PluginResponse{Error: "policy", Continue: false, Text: "[BLOCKED]"}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid frame, got %v", err)
	}
}

func TestPluginResponseValidateAcceptsPassthrough(t *testing.T) {
	r := PluginResponse{Text: "hello", Continue: true}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid frame, got %v", err)
	}
}
