package project

import (
	"strings"
	"testing"

	"github.com/hostkit-platform/hostkit/internal/domain"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"length 2 rejected", "ab", true},
		{"length 3 accepted", "abc", false},
		{"length 32 accepted", "a" + strings.Repeat("b", 31), false},
		{"length 33 rejected", "a" + strings.Repeat("b", 32), true},
		{"starts with digit rejected", "1abc", true},
		{"starts with hyphen rejected", "-abc", true},
		{"uppercase rejected", "Abc", true},
		{"underscore rejected", "my_app", true},
		{"hyphen allowed", "my-app", false},
		{"digits allowed", "api2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && domain.CodeOf(err) != domain.CodeInvalidProjectName {
				t.Errorf("ValidateName(%q) code = %s, want INVALID_PROJECT_NAME", tt.input, domain.CodeOf(err))
			}
		})
	}
}

func TestValidateCreateRequest(t *testing.T) {
	req := CreateRequest{Name: "blog", Runtime: RuntimePython}
	if err := ValidateCreateRequest(req); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	req.Runtime = "ruby"
	if err := ValidateCreateRequest(req); err == nil {
		t.Fatal("unknown runtime accepted")
	}
}
