package relay

import (
	"context"
	"testing"
	"time"

	"github.com/luoqisheng/echobridge/internal/config"
	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

func testRelayConfig() config.RelayConfig {
	return config.RelayConfig{
		Targets:       testTargets(),
		StageTimeout:  time.Second,
		SourceChannel: "room_zh",
		MirrorSource:  true,
	}
}

func newTestService(publisher *stubPublisher) *Service {
	return NewService(testRelayConfig(), &stubTranslator{}, &stubSynthesizer{}, publisher)
}

func drainService(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestHandleTranscriptEndToEnd(t *testing.T) {
	publisher := &stubPublisher{}
	svc := newTestService(publisher)

	svc.HandleTranscript(context.Background(), relaymodel.TranscriptEvent{
		Text:    "你好",
		IsFinal: true,
	})
	drainService(t, svc)

	frames := publisher.published()
	if len(frames) != 2 {
		t.Fatalf("published audio frames = %d, want one per language", len(frames))
	}
	rooms := map[string]bool{}
	for _, f := range frames {
		rooms[f.channel] = true
	}
	if !rooms["room_kr"] || !rooms["room_vn"] {
		t.Fatalf("audio should reach both language rooms, got %v", rooms)
	}

	// 最终转写还应镜像为原音房间字幕。
	publisher.mu.Lock()
	captions := append([]publishedFrame(nil), publisher.captions...)
	publisher.mu.Unlock()
	if len(captions) != 1 || captions[0].channel != "room_zh" || string(captions[0].data) != "你好" {
		t.Fatalf("source caption mirror wrong: %+v", captions)
	}

	snapshot := svc.Snapshot()
	if snapshot.Stats.Accepted != 1 {
		t.Errorf("accepted = %d, want 1", snapshot.Stats.Accepted)
	}
	if snapshot.Stats.Started != 2 {
		t.Errorf("started = %d, want 2", snapshot.Stats.Started)
	}
	if snapshot.Stats.Completed != 2 {
		t.Errorf("completed = %d, want 2", snapshot.Stats.Completed)
	}
	if snapshot.Stats.Failed != 0 {
		t.Errorf("failed = %d, want 0", snapshot.Stats.Failed)
	}
}

func TestHandleTranscriptInterimGrowth(t *testing.T) {
	publisher := &stubPublisher{}
	svc := newTestService(publisher)
	ctx := context.Background()

	// 识别器的典型输出序列："你" → "你" → "你好"(final)。
	svc.HandleTranscript(ctx, relaymodel.TranscriptEvent{Text: "你", IsFinal: false})
	svc.HandleTranscript(ctx, relaymodel.TranscriptEvent{Text: "你", IsFinal: false})
	svc.HandleTranscript(ctx, relaymodel.TranscriptEvent{Text: "你好", IsFinal: true})
	drainService(t, svc)

	snapshot := svc.Snapshot()
	if snapshot.Stats.Accepted != 2 {
		t.Fatalf("accepted = %d, want 2 (duplicate interim dropped)", snapshot.Stats.Accepted)
	}
	if got := len(publisher.published()); got != 4 {
		t.Fatalf("published frames = %d, want 2 texts x 2 languages", got)
	}
}

func TestHandleTranscriptInterimNotMirrored(t *testing.T) {
	publisher := &stubPublisher{}
	svc := newTestService(publisher)

	svc.HandleTranscript(context.Background(), relaymodel.TranscriptEvent{Text: "你好", IsFinal: false})
	drainService(t, svc)

	publisher.mu.Lock()
	captionCount := len(publisher.captions)
	publisher.mu.Unlock()
	if captionCount != 0 {
		t.Fatalf("interim transcripts must not be mirrored, got %d captions", captionCount)
	}
}

func TestCaptionUpdatesAndSubscription(t *testing.T) {
	publisher := &stubPublisher{}
	svc := NewService(
		testRelayConfig(),
		&stubTranslator{outputs: map[string]string{"kr": "안녕하세요", "vn": "xin chào"}},
		&stubSynthesizer{},
		publisher,
	)

	updates, cancel := svc.SubscribeCaptions()
	defer cancel()

	svc.HandleTranscript(context.Background(), relaymodel.TranscriptEvent{Text: "你好", IsFinal: true})
	drainService(t, svc)

	if text, ok := svc.Caption("kr"); !ok || text != "안녕하세요" {
		t.Errorf("kr caption = %q (%t), want 안녕하세요", text, ok)
	}
	if text, ok := svc.Caption("vn"); !ok || text != "xin chào" {
		t.Errorf("vn caption = %q (%t), want xin chào", text, ok)
	}

	received := map[string]string{}
	for len(received) < 2 {
		select {
		case c := <-updates:
			received[c.Code] = c.Text
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for caption updates, got %v", received)
		}
	}
}

type stubSource struct {
	events chan relaymodel.TranscriptEvent
}

func (s *stubSource) Stream(ctx context.Context, audio <-chan []byte) (<-chan relaymodel.TranscriptEvent, error) {
	return s.events, nil
}

func TestRunConsumesSourceAndReportsRunning(t *testing.T) {
	publisher := &stubPublisher{}
	svc := newTestService(publisher)

	source := &stubSource{events: make(chan relaymodel.TranscriptEvent, 1)}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.Run(ctx, source, nil)
		close(done)
	}()

	source.events <- relaymodel.TranscriptEvent{Text: "你好", IsFinal: true}

	deadline := time.After(2 * time.Second)
	for len(publisher.published()) < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for publishes")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if !svc.Snapshot().Running {
		t.Error("service should report running while consuming")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	drainService(t, svc)

	if svc.Snapshot().Running {
		t.Error("service should not report running after Run returns")
	}
}
