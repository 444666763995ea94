package stt

import (
	"errors"
	"net/url"
	"testing"
)

func TestListenRequest(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		expected string
	}{
		{"https base", "https://api.deepgram.com/v1", "wss://api.deepgram.com/v1/listen"},
		{"http base", "http://localhost:8081/v1/", "ws://localhost:8081/v1/listen"},
		{"websocket base", "wss://stt.internal/v1", "wss://stt.internal/v1/listen"},
		{"empty base", "", "wss://api.deepgram.com/v1/listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("key")
			cfg.BaseURL = tt.baseURL

			raw, header, err := cfg.listenRequest()
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			u, _ := url.Parse(raw)
			u.RawQuery = ""
			if u.String() != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, u.String())
			}
			if header.Get("Authorization") != "Token key" {
				t.Errorf("Unexpected auth header %q", header.Get("Authorization"))
			}
		})
	}
}

func TestListenRequest_FlagsRendered(t *testing.T) {
	cfg := DefaultConfig("key")
	cfg.Options.Diarize = false
	cfg.Options.InterimResults = false
	cfg.Options.Model = ""
	cfg.Options.Encoding = ""

	raw, _, err := cfg.listenRequest()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()

	if q.Get("diarize") != "false" || q.Get("interim_results") != "false" {
		t.Errorf("Expected disabled flags to be sent, got %s", u.RawQuery)
	}
	if q.Has("model") {
		t.Error("Expected empty model to be omitted")
	}
	if q.Get("encoding") != "linear16" {
		t.Errorf("Expected encoding to default to linear16, got %s", q.Get("encoding"))
	}
}

func TestListenRequest_Invalid(t *testing.T) {
	cfg := DefaultConfig("key")
	cfg.Options.Channels = 0

	if _, _, err := cfg.listenRequest(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
}
