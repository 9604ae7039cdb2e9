package relay

import (
	"context"
	"log"
	"time"

	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

// 协作方调用的计时日志包装层。所有外部调用统一经过这里记录耗时。

type timedTranslator struct {
	inner Translator
}

// TimedTranslator wraps a translator with duration and error logging.
func TimedTranslator(inner Translator) Translator {
	return &timedTranslator{inner: inner}
}

func (t *timedTranslator) Translate(ctx context.Context, target relaymodel.LanguageTarget, sourceText string) (string, error) {
	start := time.Now()
	text, err := t.inner.Translate(ctx, target, sourceText)
	logCall("translate", target.Code, start, err)
	return text, err
}

type timedSynthesizer struct {
	inner Synthesizer
}

// TimedSynthesizer wraps a synthesizer with duration and error logging.
func TimedSynthesizer(inner Synthesizer) Synthesizer {
	return &timedSynthesizer{inner: inner}
}

func (t *timedSynthesizer) Synthesize(ctx context.Context, target relaymodel.LanguageTarget, text string) (*relaymodel.SynthesizedAudio, error) {
	start := time.Now()
	audio, err := t.inner.Synthesize(ctx, target, text)
	logCall("synthesize", target.Code, start, err)
	return audio, err
}

type timedPublisher struct {
	inner Publisher
}

// TimedPublisher wraps a publisher with duration and error logging.
func TimedPublisher(inner Publisher) Publisher {
	return &timedPublisher{inner: inner}
}

func (t *timedPublisher) PublishAudio(ctx context.Context, channel string, audio *relaymodel.SynthesizedAudio) error {
	start := time.Now()
	err := t.inner.PublishAudio(ctx, channel, audio)
	logCall("publish", channel, start, err)
	return err
}

func (t *timedPublisher) PublishCaption(ctx context.Context, channel, text string) error {
	start := time.Now()
	err := t.inner.PublishCaption(ctx, channel, text)
	logCall("caption", channel, start, err)
	return err
}

func logCall(op, key string, start time.Time, err error) {
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		log.Printf("[%s] %s failed after %s: %v", op, key, elapsed, err)
		return
	}
	log.Printf("[%s] %s done in %s", op, key, elapsed)
}
