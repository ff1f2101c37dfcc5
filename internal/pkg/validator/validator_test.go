package validator

import "testing"

type generateInput struct {
	ImageURL string `json:"imageUrl" validate:"required,http_url"`
	Prompt   string `json:"prompt" validate:"notblank"`
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	errs := Validate(generateInput{ImageURL: "not a url", Prompt: "   "})
	if errs["imageUrl"] != "Invalid URL format" {
		t.Fatalf("expected imageUrl error, got %v", errs)
	}
	if errs["prompt"] != "This field is required" {
		t.Fatalf("expected prompt error, got %v", errs)
	}
}

func TestValidateAcceptsValidInput(t *testing.T) {
	if errs := Validate(generateInput{ImageURL: "https://cdn.example.com/pet.png", Prompt: "santa hat"}); errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
}
