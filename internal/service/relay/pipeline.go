package relay

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

// Translator converts source-language text into the target language.
type Translator interface {
	Translate(ctx context.Context, target relaymodel.LanguageTarget, sourceText string) (string, error)
}

// Synthesizer renders target-language text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, target relaymodel.LanguageTarget, text string) (*relaymodel.SynthesizedAudio, error)
}

// Publisher delivers synthesized audio or live captions into a named channel.
type Publisher interface {
	PublishAudio(ctx context.Context, channel string, audio *relaymodel.SynthesizedAudio) error
	PublishCaption(ctx context.Context, channel, text string) error
}

// Stage 标识流水线实例当前所处阶段。
type Stage string

const (
	StageTranslating  Stage = "translating"
	StageSynthesizing Stage = "synthesizing"
	StagePublishing   Stage = "publishing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Pipeline 为单条转写、单个目标语言执行 翻译→合成→发布。
// 每个阶段只尝试一次：直播字幕场景下，迟到的重试译文比
// 丢掉一条更有害（会乱序播出）。
type Pipeline struct {
	translator   Translator
	synthesizer  Synthesizer
	publisher    Publisher
	stageTimeout time.Duration

	// onTranslated 在翻译成功后回调，用于字幕状态更新。可为nil。
	onTranslated func(code, text string)
}

// NewPipeline assembles a per-language pipeline from its three collaborators.
func NewPipeline(translator Translator, synthesizer Synthesizer, publisher Publisher, stageTimeout time.Duration) *Pipeline {
	if stageTimeout <= 0 {
		stageTimeout = 10 * time.Second
	}
	return &Pipeline{
		translator:   translator,
		synthesizer:  synthesizer,
		publisher:    publisher,
		stageTimeout: stageTimeout,
	}
}

// SetTranslatedHook registers a callback invoked with every successful
// translation. Used by the relay service to keep live captions current.
func (p *Pipeline) SetTranslatedHook(hook func(code, text string)) {
	p.onTranslated = hook
}

// Run executes one pipeline instance. Stages run strictly in order and any
// stage error terminates the instance without affecting sibling languages.
// A cancelled context means the result must be abandoned: nothing is
// published for a cancelled task.
func (p *Pipeline) Run(ctx context.Context, target relaymodel.LanguageTarget, sourceText string) error {
	stage := StageTranslating

	targetText, err := p.translate(ctx, target, sourceText)
	if err != nil {
		return p.fail(target, stage, err)
	}

	if p.onTranslated != nil {
		p.onTranslated(target.Code, targetText)
	}

	stage = StageSynthesizing
	audio, err := p.synthesize(ctx, target, targetText)
	if err != nil {
		return p.fail(target, stage, err)
	}

	stage = StagePublishing
	if err := ctx.Err(); err != nil {
		// 关停途中不发布任何已取消任务的结果。
		return p.fail(target, stage, err)
	}
	if err := p.publish(ctx, target, audio); err != nil {
		return p.fail(target, stage, err)
	}

	return nil
}

func (p *Pipeline) translate(ctx context.Context, target relaymodel.LanguageTarget, sourceText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	targetText, err := p.translator.Translate(ctx, target, sourceText)
	if err != nil {
		return "", err
	}

	targetText = strings.TrimSpace(targetText)
	if targetText == "" {
		return "", fmt.Errorf("translator returned empty text")
	}
	return targetText, nil
}

func (p *Pipeline) synthesize(ctx context.Context, target relaymodel.LanguageTarget, text string) (*relaymodel.SynthesizedAudio, error) {
	ctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	audio, err := p.synthesizer.Synthesize(ctx, target, text)
	if err != nil {
		return nil, err
	}
	if audio == nil || len(audio.Data) == 0 {
		// 残缺音频宁可不播。
		return nil, fmt.Errorf("synthesizer returned empty audio")
	}
	return audio, nil
}

func (p *Pipeline) publish(ctx context.Context, target relaymodel.LanguageTarget, audio *relaymodel.SynthesizedAudio) error {
	ctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	return p.publisher.PublishAudio(ctx, target.Channel, audio)
}

func (p *Pipeline) fail(target relaymodel.LanguageTarget, stage Stage, err error) error {
	log.Printf("[pipeline] %s failed at %s: %v", target.Code, stage, err)
	return fmt.Errorf("%s stage %s: %w", target.Code, stage, err)
}
