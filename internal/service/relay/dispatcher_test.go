package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

func waitDrained(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Drain(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
}

func TestDispatchFansOutPerTarget(t *testing.T) {
	publisher := &stubPublisher{}
	p := NewPipeline(&stubTranslator{}, &stubSynthesizer{}, publisher, time.Second)
	d := NewDispatcher(testTargets(), p)

	started := d.Dispatch(context.Background(), "你好")
	if started != 2 {
		t.Fatalf("started = %d, want one task per target", started)
	}
	waitDrained(t, d)

	frames := publisher.published()
	if len(frames) != 2 {
		t.Fatalf("published = %d, want 2", len(frames))
	}

	channels := map[string]bool{}
	for _, f := range frames {
		channels[f.channel] = true
	}
	if !channels["room_kr"] || !channels["room_vn"] {
		t.Fatalf("expected both rooms to receive audio, got %v", channels)
	}
}

func TestDispatchLanguageIsolation(t *testing.T) {
	// kr 合成失败，vn 必须照常发布。
	synthesizer := &stubSynthesizer{errFor: map[string]error{"kr": fmt.Errorf("tts quota exceeded")}}
	publisher := &stubPublisher{}
	p := NewPipeline(&stubTranslator{}, synthesizer, publisher, time.Second)
	d := NewDispatcher(testTargets(), p)

	var mu sync.Mutex
	results := map[string]error{}
	d.SetDoneHook(func(code string, err error) {
		mu.Lock()
		results[code] = err
		mu.Unlock()
	})

	d.Dispatch(context.Background(), "你好")
	waitDrained(t, d)

	if results["kr"] == nil {
		t.Error("kr pipeline should have failed")
	}
	if results["vn"] != nil {
		t.Errorf("vn pipeline should have succeeded, got %v", results["vn"])
	}

	frames := publisher.published()
	if len(frames) != 1 || frames[0].channel != "room_vn" {
		t.Fatalf("only room_vn should receive audio, got %+v", frames)
	}
}

func TestDispatchSuppressesInflightDuplicate(t *testing.T) {
	block := make(chan struct{})
	translator := &stubTranslator{}
	synthesizer := &stubSynthesizer{}
	publisher := &stubPublisher{}

	p := NewPipeline(&blockingTranslator{inner: translator, release: block}, synthesizer, publisher, time.Minute)
	d := NewDispatcher(testTargets()[:1], p)

	if started := d.Dispatch(context.Background(), "你好"); started != 1 {
		t.Fatalf("first dispatch started = %d, want 1", started)
	}
	// 同文本仍在飞行中，重复派发应被跳过。
	if started := d.Dispatch(context.Background(), "你好"); started != 0 {
		t.Fatalf("duplicate dispatch started = %d, want 0", started)
	}
	// 不同文本不受影响。
	if started := d.Dispatch(context.Background(), "你好吗"); started != 1 {
		t.Fatalf("distinct text started = %d, want 1", started)
	}

	close(block)
	waitDrained(t, d)

	// 飞行结束后同文本可以再次派发。
	if started := d.Dispatch(context.Background(), "你好"); started != 1 {
		t.Fatalf("re-dispatch after completion started = %d, want 1", started)
	}
	waitDrained(t, d)
}

type blockingTranslator struct {
	inner   Translator
	release <-chan struct{}
}

func (b *blockingTranslator) Translate(ctx context.Context, target relaymodel.LanguageTarget, sourceText string) (string, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return b.inner.Translate(ctx, target, sourceText)
}

func TestDrainWaitsForAuxiliaryTasks(t *testing.T) {
	p := NewPipeline(&stubTranslator{}, &stubSynthesizer{}, &stubPublisher{}, time.Second)
	d := NewDispatcher(nil, p)

	done := false
	release := make(chan struct{})
	d.Go(func() {
		<-release
		done = true
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Drain(ctx); err == nil {
		t.Fatal("drain should time out while task is running")
	}

	close(release)
	waitDrained(t, d)
	if !done {
		t.Fatal("auxiliary task did not finish")
	}
}
