package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/luoqisheng/echobridge/internal/config"
	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

// TranscriptSource 提供来自识别协作方的转写事件流。
// 返回的channel在流结束（出错或音频输入关闭）时关闭。
type TranscriptSource interface {
	Stream(ctx context.Context, audio <-chan []byte) (<-chan relaymodel.TranscriptEvent, error)
}

// Stats counts pipeline activity since process start.
type Stats struct {
	Accepted  uint64 `json:"accepted"`
	Started   uint64 `json:"started"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Caption is one live subtitle update for a target language.
type Caption struct {
	Code string    `json:"code"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Snapshot 为状态接口暴露的服务快照。
type Snapshot struct {
	Running      bool              `json:"running"`
	Heartbeat    time.Time         `json:"heartbeat"`
	HeartbeatAge float64           `json:"heartbeatAge"`
	Channels     []string          `json:"channels"`
	Stats        Stats             `json:"stats"`
	Captions     map[string]string `json:"captions"`
}

// Service 将转写事件流接到去重门和分发器上，并持有状态接口
// 需要的运行标志、心跳与计数器。全部可变状态都收拢在这里，
// 随服务一起初始化和关停。
type Service struct {
	cfg        config.RelayConfig
	gate       *Gate
	dispatcher *Dispatcher
	publisher  Publisher

	mu        sync.RWMutex
	running   bool
	heartbeat time.Time
	stats     Stats
	captions  map[string]string
	subs      map[chan Caption]struct{}
}

// NewService wires the pipeline, dispatcher and bookkeeping together.
func NewService(cfg config.RelayConfig, translator Translator, synthesizer Synthesizer, publisher Publisher) *Service {
	s := &Service{
		cfg:       cfg,
		gate:      NewGate(),
		publisher: publisher,
		captions:  make(map[string]string),
		subs:      make(map[chan Caption]struct{}),
	}

	pipeline := NewPipeline(translator, synthesizer, publisher, cfg.StageTimeout)
	pipeline.SetTranslatedHook(s.setCaption)

	s.dispatcher = NewDispatcher(cfg.Targets, pipeline)
	s.dispatcher.SetDoneHook(func(code string, err error) {
		s.mu.Lock()
		if err != nil {
			s.stats.Failed++
		} else {
			s.stats.Completed++
		}
		s.mu.Unlock()
	})

	return s
}

// Run consumes transcript streams from the source until ctx is cancelled.
// A recognition failure is a logged warning, not a crash: the stream is
// reopened and the relay self-heals on the next transcript.
func (s *Service) Run(ctx context.Context, source TranscriptSource, audio <-chan []byte) {
	s.setRunning(true)
	defer s.setRunning(false)

	for {
		if ctx.Err() != nil {
			return
		}

		events, err := source.Stream(ctx, audio)
		if err != nil {
			log.Printf("[relay] warning: transcript stream unavailable: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		s.consume(ctx, events)
	}
}

func (s *Service) consume(ctx context.Context, events <-chan relaymodel.TranscriptEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandleTranscript(ctx, ev)
		}
	}
}

// HandleTranscript runs one event through the dedup gate and, when accepted,
// fans it out. The gate never waits for pipeline completion.
func (s *Service) HandleTranscript(ctx context.Context, ev relaymodel.TranscriptEvent) {
	s.touchHeartbeat()

	if !s.gate.Accept(ev) {
		return
	}

	log.Printf("[relay] transcript accepted (final=%t): %s", ev.IsFinal, ev.Text)

	started := s.dispatcher.Dispatch(ctx, ev.Text)

	s.mu.Lock()
	s.stats.Accepted++
	s.stats.Started += uint64(started)
	s.mu.Unlock()

	if ev.IsFinal && s.cfg.MirrorSource {
		text := ev.Text
		s.dispatcher.Go(func() {
			if err := s.publisher.PublishCaption(ctx, s.cfg.SourceChannel, text); err != nil {
				log.Printf("[relay] source caption mirror failed: %v", err)
			}
		})
	}
}

// Shutdown drains outstanding pipeline tasks.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.dispatcher.Drain(ctx)
}

// Snapshot returns the current service state for the status surface.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]string, 0, len(s.cfg.Targets)+1)
	if s.cfg.MirrorSource {
		channels = append(channels, s.cfg.SourceChannel)
	}
	for _, target := range s.cfg.Targets {
		channels = append(channels, target.Channel)
	}

	captions := make(map[string]string, len(s.captions))
	for code, text := range s.captions {
		captions[code] = text
	}

	age := 0.0
	if !s.heartbeat.IsZero() {
		age = time.Since(s.heartbeat).Seconds()
	}

	return Snapshot{
		Running:      s.running,
		Heartbeat:    s.heartbeat,
		HeartbeatAge: age,
		Channels:     channels,
		Stats:        s.stats,
		Captions:     captions,
	}
}

// Caption returns the latest subtitle for a language code.
func (s *Service) Caption(code string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.captions[code]
	return text, ok
}

// SubscribeCaptions registers a live caption listener. The returned cancel
// function must be called to release the subscription.
func (s *Service) SubscribeCaptions() (<-chan Caption, func()) {
	ch := make(chan Caption, 16)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Service) setCaption(code, text string) {
	update := Caption{Code: code, Text: text, At: time.Now().UTC()}

	s.mu.Lock()
	s.captions[code] = text
	for ch := range s.subs {
		select {
		case ch <- update:
		default:
			// 慢消费者丢弃本条，字幕只关心最新值。
		}
	}
	s.mu.Unlock()
}

func (s *Service) setRunning(running bool) {
	s.mu.Lock()
	s.running = running
	if running {
		s.heartbeat = time.Now().UTC()
	}
	s.mu.Unlock()
}

func (s *Service) touchHeartbeat() {
	s.mu.Lock()
	s.heartbeat = time.Now().UTC()
	s.mu.Unlock()
}
