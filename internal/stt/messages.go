package stt

import (
	"encoding/json"
	"strings"

	listenv1 "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/lexiqai/encounter-scribe/internal/transcript"
)

// Message types sent by the provider
const (
	messageResults       = string(listenv1.TypeMessageResponse)
	messageMetadata      = string(listenv1.TypeMetadataResponse)
	messageSpeechStarted = string(listenv1.TypeSpeechStartedResponse)
	messageUtteranceEnd  = string(listenv1.TypeUtteranceEndResponse)
	messageError         = string(listenv1.TypeErrorResponse)
)

// providerMessage is a provider frame decoded onto the SDK's live response
// type. Legacy payloads carry no type and nest results under results.channels.
type providerMessage struct {
	listenv1.MessageResponse

	Message string `json:"message"`
	Results struct {
		Channels []listenv1.Channel `json:"channels"`
	} `json:"results"`

	raw []byte
}

func decodeMessage(payload []byte) (*providerMessage, error) {
	var msg providerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, &ProtocolError{Reason: "malformed_json", Err: err}
	}
	msg.raw = payload
	return &msg, nil
}

// bestAlternative returns the first alternative of the first channel,
// looking at the legacy shape when the current one is empty.
func (m *providerMessage) bestAlternative() (listenv1.Alternative, bool) {
	if len(m.Channel.Alternatives) > 0 {
		return m.Channel.Alternatives[0], true
	}
	if len(m.Results.Channels) > 0 && len(m.Results.Channels[0].Alternatives) > 0 {
		return m.Results.Channels[0].Alternatives[0], true
	}
	return listenv1.Alternative{}, false
}

// errorMessage returns the human readable text of an Error frame.
func (m *providerMessage) errorMessage() string {
	// A field of the wrong type leaves the rest of the frame usable.
	var frame listenv1.ErrorResponse
	_ = json.Unmarshal(m.raw, &frame)
	for _, candidate := range []string{m.Message, frame.Description, frame.ErrMsg} {
		if text := strings.TrimSpace(candidate); text != "" {
			return text
		}
	}
	return "provider returned an unknown error"
}

// alternativeWords converts wire words, preferring the punctuated form.
func alternativeWords(alt listenv1.Alternative) []transcript.Word {
	out := make([]transcript.Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if strings.TrimSpace(text) == "" {
			text = w.Word
		}
		out = append(out, transcript.Word{
			Text:    text,
			Speaker: w.Speaker,
			Start:   w.Start,
			End:     w.End,
		})
	}
	return out
}
