package relay

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

type stubTranslator struct {
	mu      sync.Mutex
	calls   int
	outputs map[string]string
	errFor  map[string]error
	delay   time.Duration
}

func (s *stubTranslator) Translate(ctx context.Context, target relaymodel.LanguageTarget, sourceText string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := s.errFor[target.Code]; err != nil {
		return "", err
	}
	if out, ok := s.outputs[target.Code]; ok {
		return out, nil
	}
	return "<" + target.Code + ">" + sourceText, nil
}

type stubSynthesizer struct {
	mu     sync.Mutex
	calls  int
	errFor map[string]error
	empty  bool
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, target relaymodel.LanguageTarget, text string) (*relaymodel.SynthesizedAudio, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if err := s.errFor[target.Code]; err != nil {
		return nil, err
	}
	if s.empty {
		return &relaymodel.SynthesizedAudio{Code: target.Code}, nil
	}
	return &relaymodel.SynthesizedAudio{
		Data:   []byte("audio:" + target.Code + ":" + text),
		Format: "mp3",
		Code:   target.Code,
	}, nil
}

type publishedFrame struct {
	channel string
	data    []byte
}

type stubPublisher struct {
	mu       sync.Mutex
	frames   []publishedFrame
	captions []publishedFrame
	errFor   map[string]error
}

func (s *stubPublisher) PublishAudio(ctx context.Context, channel string, audio *relaymodel.SynthesizedAudio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor[channel]; err != nil {
		return err
	}
	buf := make([]byte, len(audio.Data))
	copy(buf, audio.Data)
	s.frames = append(s.frames, publishedFrame{channel: channel, data: buf})
	return nil
}

func (s *stubPublisher) PublishCaption(ctx context.Context, channel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor[channel]; err != nil {
		return err
	}
	s.captions = append(s.captions, publishedFrame{channel: channel, data: []byte(text)})
	return nil
}

func (s *stubPublisher) published() []publishedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]publishedFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

func testTargets() []relaymodel.LanguageTarget {
	return []relaymodel.LanguageTarget{
		{Code: "kr", Instruction: "to korean", Channel: "room_kr", Voice: "multi_female_sarah_bigtts", Locale: "ko-KR"},
		{Code: "vn", Instruction: "to vietnamese", Channel: "room_vn", Voice: "multi_female_anna_bigtts", Locale: "vi-VN"},
	}
}

func TestPipelineHappyPath(t *testing.T) {
	translator := &stubTranslator{outputs: map[string]string{"kr": "안녕하세요"}}
	synthesizer := &stubSynthesizer{}
	publisher := &stubPublisher{}
	p := NewPipeline(translator, synthesizer, publisher, time.Second)

	target := testTargets()[0]
	if err := p.Run(context.Background(), target, "你好"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	frames := publisher.published()
	if len(frames) != 1 {
		t.Fatalf("published frames = %d, want 1", len(frames))
	}
	if frames[0].channel != "room_kr" {
		t.Errorf("channel = %s, want room_kr", frames[0].channel)
	}
	want := []byte("audio:kr:안녕하세요")
	if !bytes.Equal(frames[0].data, want) {
		t.Errorf("published bytes differ from synthesized bytes")
	}
}

func TestPipelineTranslateFailureStopsInstance(t *testing.T) {
	translator := &stubTranslator{errFor: map[string]error{"kr": fmt.Errorf("model unavailable")}}
	synthesizer := &stubSynthesizer{}
	publisher := &stubPublisher{}
	p := NewPipeline(translator, synthesizer, publisher, time.Second)

	err := p.Run(context.Background(), testTargets()[0], "你好")
	if err == nil {
		t.Fatal("expected error from translate stage")
	}
	if !strings.Contains(err.Error(), string(StageTranslating)) {
		t.Errorf("error should name the failing stage, got: %v", err)
	}
	if synthesizer.calls != 0 {
		t.Error("synthesize must not run after translate failure")
	}
	if len(publisher.published()) != 0 {
		t.Error("nothing may be published after translate failure")
	}
}

func TestPipelineEmptyAudioNotPublished(t *testing.T) {
	translator := &stubTranslator{}
	synthesizer := &stubSynthesizer{empty: true}
	publisher := &stubPublisher{}
	p := NewPipeline(translator, synthesizer, publisher, time.Second)

	if err := p.Run(context.Background(), testTargets()[0], "你好"); err == nil {
		t.Fatal("expected error for empty audio")
	}
	if len(publisher.published()) != 0 {
		t.Error("empty audio must not be published")
	}
}

func TestPipelineCancelledContextNeverPublishes(t *testing.T) {
	translator := &stubTranslator{}
	synthesizer := &stubSynthesizer{}
	publisher := &stubPublisher{}
	p := NewPipeline(translator, synthesizer, publisher, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Run(ctx, testTargets()[0], "你好"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if len(publisher.published()) != 0 {
		t.Error("cancelled task must never publish")
	}
}

func TestPipelineStageTimeout(t *testing.T) {
	translator := &stubTranslator{delay: 500 * time.Millisecond}
	synthesizer := &stubSynthesizer{}
	publisher := &stubPublisher{}
	p := NewPipeline(translator, synthesizer, publisher, 50*time.Millisecond)

	start := time.Now()
	err := p.Run(context.Background(), testTargets()[0], "你好")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("stage timeout did not bound the call, took %v", elapsed)
	}
	if len(publisher.published()) != 0 {
		t.Error("timed-out task must not publish")
	}
}

func TestPipelineTranslatedHook(t *testing.T) {
	translator := &stubTranslator{outputs: map[string]string{"kr": "안녕하세요"}}
	p := NewPipeline(translator, &stubSynthesizer{}, &stubPublisher{}, time.Second)

	var gotCode, gotText string
	p.SetTranslatedHook(func(code, text string) {
		gotCode, gotText = code, text
	})

	if err := p.Run(context.Background(), testTargets()[0], "你好"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if gotCode != "kr" || gotText != "안녕하세요" {
		t.Fatalf("hook got (%q, %q), want (kr, 안녕하세요)", gotCode, gotText)
	}
}
