package transcribe

import (
	"context"
	"fmt"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"
)

const defaultDeepgramModel = "nova-2"

// DeepgramProvider opens live transcription streams against the
// Deepgram streaming API.
type DeepgramProvider struct {
	apiKey string
	log    zerolog.Logger
}

func NewDeepgramProvider(apiKey string, log zerolog.Logger) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, log: log}
}

func (p *DeepgramProvider) Open(ctx context.Context, opts StreamOptions, events StreamEvents) (Stream, error) {
	model := opts.Model
	if model == "" {
		model = defaultDeepgramModel
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          model,
		Language:       opts.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		Endpointing:    "1",
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     opts.SampleRate,
	}

	// Embed the default handler and override only the callbacks that
	// feed the session.
	callback := &deepgramCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		events:                 events,
		log:                    p.log,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, p.apiKey, nil, tOptions, callback)
	if err != nil {
		return nil, fmt.Errorf("create deepgram client: %w", err)
	}
	if !client.Connect() {
		return nil, fmt.Errorf("deepgram websocket connect failed")
	}
	return &deepgramStream{client: client}, nil
}

type deepgramCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	events StreamEvents
	log    zerolog.Logger
}

func (h *deepgramCallbackHandler) Open(or *msginterfaces.OpenResponse) error {
	h.log.Debug().Msg("deepgram websocket open")
	if h.events.Ready != nil {
		h.events.Ready()
	}
	return nil
}

func (h *deepgramCallbackHandler) Message(mr *msginterfaces.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript
	if h.events.Transcript != nil {
		h.events.Transcript(text, mr.IsFinal)
	}
	return nil
}

func (h *deepgramCallbackHandler) Close(cr *msginterfaces.CloseResponse) error {
	h.log.Debug().Msg("deepgram websocket closed")
	if h.events.Closed != nil {
		h.events.Closed()
	}
	return nil
}

func (h *deepgramCallbackHandler) Error(er *msginterfaces.ErrorResponse) error {
	err := fmt.Errorf("%s: %s", er.ErrCode, er.Description)
	h.log.Error().Err(err).Msg("deepgram stream error")
	if h.events.Error != nil {
		h.events.Error(err)
	}
	return nil
}

type deepgramStream struct {
	client *listenClient.WSCallback
}

func (s *deepgramStream) Send(audio []byte) error {
	_, err := s.client.Write(audio)
	return err
}

func (s *deepgramStream) KeepAlive() error {
	return s.client.WriteJSON(map[string]string{"type": "KeepAlive"})
}

func (s *deepgramStream) Close() error {
	s.client.Finish()
	return nil
}
