package stt

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"

	"github.com/lexiqai/encounter-scribe/internal/audio"
	"github.com/lexiqai/encounter-scribe/internal/resilience"
)

const (
	defaultBaseURL       = "https://api.deepgram.com/v1"
	defaultPendingChunks = 50
	defaultKeepAlive     = 30 * time.Second
	keepAliveMessage     = `{"type":"KeepAlive"}`
	closeStreamMessage   = `{"type":"CloseStream"}`
	authorizationScheme  = "Token "
)

// Config holds the settings of one streaming session
type Config struct {
	APIKey  string
	BaseURL string

	// Options are the listen parameters sent as query values
	Options interfaces.LiveTranscriptionOptions

	PendingChunks     int           // Chunks kept while not connected
	KeepAliveInterval time.Duration // Zero disables keep-alive
	Reconnect         resilience.ReconnectPolicy
}

// DefaultOptions returns listen options for 16 kHz mono PCM16 with diarization
// and interim results enabled.
func DefaultOptions() interfaces.LiveTranscriptionOptions {
	return interfaces.LiveTranscriptionOptions{
		Model:          "nova-2-medical",
		Language:       "en-US",
		Encoding:       audio.Encoding,
		SampleRate:     audio.SampleRate,
		Channels:       audio.Channels,
		Diarize:        true,
		InterimResults: true,
		Punctuate:      true,
	}
}

// DefaultConfig returns a session configuration for apiKey
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:            apiKey,
		BaseURL:           defaultBaseURL,
		Options:           DefaultOptions(),
		PendingChunks:     defaultPendingChunks,
		KeepAliveInterval: defaultKeepAlive,
		Reconnect:         resilience.DefaultReconnectPolicy(),
	}
}

// listenRequest builds the websocket URL and auth header for the session.
func (c Config) listenRequest() (string, http.Header, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return "", nil, fmt.Errorf("%w: api key is empty", ErrInvalidConfiguration)
	}

	opts := c.Options
	if opts.SampleRate <= 0 {
		return "", nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfiguration, opts.SampleRate)
	}
	if opts.Channels <= 0 {
		return "", nil, fmt.Errorf("%w: channel count must be positive, got %d", ErrInvalidConfiguration, opts.Channels)
	}
	if opts.Encoding == "" {
		opts.Encoding = audio.Encoding
	}

	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", nil, fmt.Errorf("%w: base url: %v", ErrInvalidConfiguration, err)
	}
	if listenURL.Scheme != "ws" && listenURL.Scheme != "wss" {
		return "", nil, fmt.Errorf("%w: unsupported url scheme %q", ErrInvalidConfiguration, listenURL.Scheme)
	}

	query := listenURL.Query()
	if opts.Model != "" {
		query.Set("model", opts.Model)
	}
	if opts.Language != "" {
		query.Set("language", opts.Language)
	}
	query.Set("encoding", opts.Encoding)
	query.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	query.Set("channels", strconv.Itoa(opts.Channels))
	query.Set("diarize", strconv.FormatBool(opts.Diarize))
	query.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	query.Set("punctuate", strconv.FormatBool(opts.Punctuate))
	listenURL.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", authorizationScheme+c.APIKey)

	return listenURL.String(), header, nil
}
