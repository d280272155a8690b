package validation_test

import (
	"strings"
	"testing"

	"github.com/fbarrella/reson8/validation"
)

func TestMessageContent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		want    string
	}{
		{name: "valid", input: "hello", wantErr: false, want: "hello"},
		{name: "trims whitespace", input: "  hi  ", wantErr: false, want: "hi"},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "too long", input: strings.Repeat("a", validation.MaxMessageLength+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validation.MessageContent(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("MessageContent(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("MessageContent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestChannelName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid", input: "general", wantErr: false},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "too long", input: strings.Repeat("a", validation.MaxChannelNameLength+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validation.ChannelName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ChannelName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestFetchLimit(t *testing.T) {
	tests := []struct {
		name  string
		input int
		want  int
	}{
		{name: "zero defaults to 50", input: 0, want: 50},
		{name: "negative defaults to 50", input: -5, want: 50},
		{name: "under cap passes through", input: 10, want: 10},
		{name: "over cap clamps to 100", input: 500, want: 100},
		{name: "exactly cap", input: 100, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validation.FetchLimit(tt.input); got != tt.want {
				t.Fatalf("FetchLimit(%d) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestInstallationID(t *testing.T) {
	if err := validation.InstallationID("abc-123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := validation.InstallationID("   "); err == nil {
		t.Fatal("expected error for blank installation id")
	}
}
