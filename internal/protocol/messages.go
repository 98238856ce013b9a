package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Inbound from the client.
	TypeIncomingAudio    MessageType = "incoming-audio"
	TypePauseTranscriber MessageType = "pause-deepgram"
	TypeEndTranscriber   MessageType = "disconnect-deepgram"

	// Outbound to the client.
	TypeTranscriberReady MessageType = "transcriber-ready"
	TypeFinal            MessageType = "final"
	TypeFinalTranslated  MessageType = "final-translated"
	TypeError            MessageType = "error"
	TypeClose            MessageType = "close"
	TypeUsageProgress    MessageType = "usage:progress"
	TypeUsageFinal       MessageType = "usage:final"
	TypeUsageCurrent     MessageType = "usage:current"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// IncomingAudio carries one raw PCM frame plus the stream parameters the
// client wants applied. Target language may change frame to frame.
type IncomingAudio struct {
	Type           MessageType `json:"type"`
	SampleRate     int         `json:"sampleRate"`
	InputLanguage  string      `json:"inputLanguage"`
	TargetLanguage string      `json:"targetLanguage"`
	AudioData      []byte      `json:"audioData"`
}

type PauseTranscriber struct {
	Type MessageType `json:"type"`
	Flag bool        `json:"flag"`
}

type EndTranscriber struct {
	Type MessageType `json:"type"`
}

type TranscriberReady struct {
	Type   MessageType `json:"type"`
	Detail string      `json:"detail"`
}

type Final struct {
	Type     MessageType `json:"type"`
	Sentence string      `json:"sentence"`
}

type FinalTranslated struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
}

type CloseEvent struct {
	Type   MessageType `json:"type"`
	Detail string      `json:"detail"`
}

type UsageProgress struct {
	Type        MessageType `json:"type"`
	StartedAt   int64       `json:"startedAt"`
	Seconds     int64       `json:"seconds"`
	LiveTotalMs int64       `json:"liveTotalMs"`
}

type UsageFinal struct {
	Type      MessageType `json:"type"`
	Seconds   int64       `json:"seconds"`
	StartedAt int64       `json:"startedAt"`
	EndedAt   int64       `json:"endedAt"`
	TotalMs   int64       `json:"totalMs"`
}

type LastSession struct {
	StartedAt int64 `json:"startedAt"`
	EndedAt   int64 `json:"endedAt"`
	Seconds   int64 `json:"seconds"`
}

type UsageCurrent struct {
	Type        MessageType `json:"type"`
	TotalMs     int64       `json:"totalMs"`
	LastSession LastSession `json:"lastSession"`
}

// ParseClientMessage decodes and validates an inbound payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeIncomingAudio:
		var msg IncomingAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SampleRate <= 0 || len(msg.AudioData) == 0 {
			return nil, errors.New("invalid incoming-audio")
		}
		return msg, nil
	case TypePauseTranscriber:
		var msg PauseTranscriber
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeEndTranscriber:
		var msg EndTranscriber
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
