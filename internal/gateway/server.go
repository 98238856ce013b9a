package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/okravets/speakfluent/internal/config"
	"github.com/okravets/speakfluent/internal/observability"
	"github.com/okravets/speakfluent/internal/orchestrate"
	"github.com/okravets/speakfluent/internal/protocol"
	"github.com/okravets/speakfluent/internal/store"
	"github.com/okravets/speakfluent/internal/transcribe"
)

// Orchestrator is the sentence pipeline the gateway feeds.
type Orchestrator interface {
	Submit(clientID, sentence, targetLang string)
}

// The server is the pipeline's event sink.
var _ orchestrate.Sink = (*Server)(nil)

// Server terminates client websockets and routes their traffic between
// the transcription provider, the translation pipeline and the usage
// store.
type Server struct {
	cfg          config.Config
	provider     transcribe.Provider
	orchestrator Orchestrator
	usage        store.Store
	metrics      *observability.Metrics
	log          zerolog.Logger
	hub          *hub
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, provider transcribe.Provider, usage store.Store, metrics *observability.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
		usage:    usage,
		metrics:  metrics,
		log:      log,
		hub:      newHub(log, metrics),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	return s
}

// SetOrchestrator wires the sentence pipeline. The server and the
// pipeline reference each other, so this happens after construction.
func (s *Server) SetOrchestrator(o Orchestrator) {
	s.orchestrator = o
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// Final implements orchestrate.Sink.
func (s *Server) Final(clientID, sentence string) {
	s.hub.broadcast(clientID, protocol.Final{Type: protocol.TypeFinal, Sentence: sentence})
}

// FinalTranslated implements orchestrate.Sink.
func (s *Server) FinalTranslated(clientID, text string) {
	s.hub.broadcast(clientID, protocol.FinalTranslated{Type: protocol.TypeFinalTranslated, Text: text})
}

// TranslationError implements orchestrate.Sink.
func (s *Server) TranslationError(clientID, message string) {
	s.hub.broadcast(clientID, protocol.ErrorEvent{Type: protocol.TypeError, Message: message})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		clientID = uuid.NewString()
	}
	log := s.log.With().Str("client_id", clientID).Logger()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := s.hub.add(clientID, ws)
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	log.Info().Msg("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &wsSession{server: s, clientID: clientID, conn: c, log: log}
	if err := s.usage.ResolveUser(ctx, clientID); err != nil {
		log.Error().Err(err).Msg("user resolution failed")
	} else if usage, err := s.usage.Usage(ctx, clientID); err != nil {
		log.Error().Err(err).Msg("usage lookup failed")
	} else {
		sess.baseTotalMs.Store(usage.TotalMs)
		c.enqueue(usageCurrentEvent(usage))
	}

	sess.readLoop(ctx, ws)

	cancel()
	if sess.tr != nil {
		sess.tr.Dispose()
	}
	remaining := s.hub.remove(clientID, c)
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	log.Info().Int("remaining_conns", remaining).Msg("client disconnected")
}

// wsSession is the per-socket state: the current transcriber, replaced
// by fresh audio after a session closes, and the last persisted balance
// that anchors live usage projections.
type wsSession struct {
	server   *Server
	clientID string
	conn     *conn
	log      zerolog.Logger

	baseTotalMs atomic.Int64

	// tr is only touched from the read loop.
	tr *transcribe.Transcriber
}

func (sess *wsSession) readLoop(ctx context.Context, ws *websocket.Conn) {
	s := sess.server
	ws.SetReadLimit(2 << 20)
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			sess.log.Debug().Err(err).Msg("rejected client message")
			sess.conn.enqueue(protocol.ErrorEvent{
				Type:    protocol.TypeError,
				Message: "invalid message",
				Detail:  err.Error(),
			})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.IncomingAudio:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeIncomingAudio)).Inc()
			// A closed session stays closed; fresh audio opens a new one
			// that settles its own usage.
			if sess.tr == nil || sess.tr.Status() == transcribe.StatusClosed {
				sess.tr = sess.newTranscriber()
			}
			if err := sess.tr.Start(ctx, msg.SampleRate, msg.InputLanguage, msg.TargetLanguage); err != nil {
				continue
			}
			sess.tr.SetTargetLanguage(msg.TargetLanguage)
			sess.tr.Send(msg.AudioData)
		case protocol.PauseTranscriber:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypePauseTranscriber)).Inc()
			if sess.tr != nil {
				sess.tr.Pause(msg.Flag)
			}
		case protocol.EndTranscriber:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeEndTranscriber)).Inc()
			if sess.tr != nil {
				sess.tr.End()
			}
		}
	}
}

func (sess *wsSession) newTranscriber() *transcribe.Transcriber {
	s := sess.server
	clientID := sess.clientID
	return transcribe.New(transcribe.Options{
		Provider:          s.provider,
		Model:             s.cfg.DeepgramModel,
		Logger:            sess.log,
		TickInterval:      s.cfg.UsageTickInterval,
		KeepAliveInterval: s.cfg.KeepAliveInterval,
		PauseAutoClose:    s.cfg.PauseAutoClose,
		Events: transcribe.Events{
			Ready: func() {
				s.hub.broadcast(clientID, protocol.TranscriberReady{
					Type:   protocol.TypeTranscriberReady,
					Detail: "Deepgram connection is ready",
				})
			},
			Sentence: func(text, targetLang string) {
				s.orchestrator.Submit(clientID, text, targetLang)
			},
			UsageProgress: func(p transcribe.UsageProgress) {
				s.hub.broadcast(clientID, protocol.UsageProgress{
					Type:        protocol.TypeUsageProgress,
					StartedAt:   p.StartedAt.UnixMilli(),
					Seconds:     p.Seconds,
					LiveTotalMs: sess.baseTotalMs.Load() + p.Seconds*1000,
				})
			},
			UsageFinal: sess.settleUsage,
			Error: func(message, detail string) {
				s.hub.broadcast(clientID, protocol.ErrorEvent{
					Type:    protocol.TypeError,
					Message: message,
					Detail:  detail,
				})
			},
			Closed: func(detail string) {
				s.hub.broadcast(clientID, protocol.CloseEvent{
					Type:   protocol.TypeClose,
					Detail: detail,
				})
			},
		},
	})
}

// settleUsage credits a finished session against the client's balance
// and announces the new totals. A persistence failure is reported to
// the client; the session event then carries a balance projected from
// the last persisted total rather than a bogus cumulative.
func (sess *wsSession) settleUsage(f transcribe.UsageFinal) {
	s := sess.server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := store.SessionRecord{
		StartedAt: f.StartedAt,
		EndedAt:   f.EndedAt,
		Seconds:   f.Seconds,
	}
	var totalMs int64
	usage, err := s.usage.AddUsage(ctx, sess.clientID, rec)
	if err != nil {
		sess.log.Error().Err(err).Msg("usage settlement failed")
		s.metrics.ProviderErrors.WithLabelValues("store", "add_usage").Inc()
		s.hub.broadcast(sess.clientID, protocol.ErrorEvent{
			Type:    protocol.TypeError,
			Message: "usage update failed",
			Detail:  err.Error(),
		})
		totalMs = sess.baseTotalMs.Load() + f.Seconds*1000
	} else {
		totalMs = usage.TotalMs
		sess.baseTotalMs.Store(totalMs)
	}

	s.metrics.UsageSeconds.Add(float64(f.Seconds))
	s.metrics.SessionEvents.WithLabelValues("settled_" + f.Reason).Inc()

	s.hub.broadcast(sess.clientID, protocol.UsageFinal{
		Type:      protocol.TypeUsageFinal,
		Seconds:   f.Seconds,
		StartedAt: f.StartedAt.UnixMilli(),
		EndedAt:   f.EndedAt.UnixMilli(),
		TotalMs:   totalMs,
	})
}

func usageCurrentEvent(usage store.Usage) protocol.UsageCurrent {
	evt := protocol.UsageCurrent{
		Type:    protocol.TypeUsageCurrent,
		TotalMs: usage.TotalMs,
	}
	if usage.LastSession != nil {
		evt.LastSession = protocol.LastSession{
			StartedAt: usage.LastSession.StartedAt.UnixMilli(),
			EndedAt:   usage.LastSession.EndedAt.UnixMilli(),
			Seconds:   usage.LastSession.Seconds,
		}
	}
	return evt
}

func typeOf(payload any) string {
	switch m := payload.(type) {
	case protocol.TranscriberReady:
		return string(m.Type)
	case protocol.Final:
		return string(m.Type)
	case protocol.FinalTranslated:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	case protocol.CloseEvent:
		return string(m.Type)
	case protocol.UsageProgress:
		return string(m.Type)
	case protocol.UsageFinal:
		return string(m.Type)
	case protocol.UsageCurrent:
		return string(m.Type)
	default:
		return "unknown"
	}
}
