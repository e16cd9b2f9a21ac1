// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package validation

import (
	"strings"
	"testing"
)

type samplePayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=8"`
	Content        string `json:"content" validate:"required,notblank"`
	MessageID      int64  `json:"messageId,omitempty" validate:"gt=0"`
	Internal       string `json:"-"`
}

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()
	if v1 == nil || v1 != v2 {
		t.Error("GetValidator() should return one shared instance")
	}
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		input     samplePayload
		wantField []string
		wantMsg   string
	}{
		{
			name:  "valid",
			input: samplePayload{ConversationID: "c1", Content: "hi", MessageID: 1},
		},
		{
			name:      "missing conversation",
			input:     samplePayload{Content: "hi", MessageID: 1},
			wantField: []string{"conversationId"},
			wantMsg:   "conversationId is required",
		},
		{
			name:      "blank content",
			input:     samplePayload{ConversationID: "c1", Content: "   ", MessageID: 1},
			wantField: []string{"content"},
			wantMsg:   "content must not be blank",
		},
		{
			name:      "long conversation id",
			input:     samplePayload{ConversationID: "123456789", Content: "hi", MessageID: 1},
			wantField: []string{"conversationId"},
			wantMsg:   "conversationId must be at most 8 characters",
		},
		{
			name:      "zero message id",
			input:     samplePayload{ConversationID: "c1", Content: "hi"},
			wantField: []string{"messageId"},
			wantMsg:   "messageId must be greater than 0",
		},
		{
			name:      "several failures",
			input:     samplePayload{},
			wantField: []string{"conversationId", "content", "messageId"},
			wantMsg:   "conversationId is required; content is required; messageId must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateStruct(&tt.input)
			if len(tt.wantField) == 0 {
				if verr != nil {
					t.Fatalf("unexpected error: %v", verr)
				}
				return
			}
			if verr == nil {
				t.Fatal("expected validation error")
			}
			if verr.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", verr.Error(), tt.wantMsg)
			}
			errs := verr.Errors()
			if len(errs) != len(tt.wantField) {
				t.Fatalf("got %d errors, want %d", len(errs), len(tt.wantField))
			}
			for i, field := range tt.wantField {
				if errs[i].Field() != field {
					t.Errorf("errors[%d].Field() = %q, want %q", i, errs[i].Field(), field)
				}
			}
		})
	}
}

func TestValidateVar(t *testing.T) {
	if verr := ValidateVar("content", "short", "max=10"); verr != nil {
		t.Errorf("unexpected error: %v", verr)
	}

	verr := ValidateVar("content", strings.Repeat("x", 11), "max=10")
	if verr == nil {
		t.Fatal("expected error for long content")
	}
	errs := verr.Errors()
	if len(errs) != 1 {
		t.Fatalf("got %d errors", len(errs))
	}
	if errs[0].Field() != "content" || errs[0].Tag() != "max" || errs[0].Param() != "10" {
		t.Errorf("error = %+v", errs[0])
	}
	if verr.Error() != "content must be at most 10 characters" {
		t.Errorf("Error() = %q", verr.Error())
	}
}

func TestRequestValidationError_Empty(t *testing.T) {
	var verr RequestValidationError
	if verr.Error() != "validation failed" {
		t.Errorf("Error() = %q", verr.Error())
	}
}

func TestValidateVar_NotBlank(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"hello", true},
		{" x ", true},
		{"   ", false},
		{"\t\n", false},
	}
	for _, tt := range tests {
		verr := ValidateVar("content", tt.value, "notblank")
		if tt.ok && verr != nil {
			t.Errorf("ValidateVar(%q) = %v, want nil", tt.value, verr)
		}
		if !tt.ok {
			if verr == nil {
				t.Errorf("ValidateVar(%q) = nil, want error", tt.value)
				continue
			}
			if verr.Error() != "content must not be blank" {
				t.Errorf("ValidateVar(%q) = %q", tt.value, verr.Error())
			}
		}
	}
}
