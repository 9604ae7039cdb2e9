package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/luoqisheng/echobridge/internal/config"
	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
	"github.com/luoqisheng/echobridge/internal/service/publish"
	"github.com/luoqisheng/echobridge/internal/service/speech"
	"github.com/luoqisheng/echobridge/internal/service/translate"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: translate / tts / publish")
	text := flag.String("text", "", "输入文本")
	lang := flag.String("lang", "kr", "目标语言代码 (kr/vn/jp)")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认自动生成)")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *text == "" {
		flag.Usage()
		log.Fatal("请通过 -text 提供输入文本")
	}

	target, ok := relaymodel.FindTarget(cfg.Relay.Targets, *lang)
	if !ok {
		log.Fatalf("未配置目标语言 %s，可用语言见 RELAY_TARGET_LANGS", *lang)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "translate":
		runTranslate(ctx, cfg, target, *text)
	case "tts":
		runTTS(ctx, cfg, target, *text, *outputPath)
	case "publish":
		runPublish(ctx, cfg, target, *text, *outputPath)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=translate / tts / publish 指定测试模式")
	}
}

func runTranslate(ctx context.Context, cfg *config.Config, target relaymodel.LanguageTarget, text string) {
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("创建模型失败: %v", err)
	}

	translator, err := translate.NewService(ctx, chatModel)
	if err != nil {
		log.Fatalf("初始化翻译服务失败: %v", err)
	}

	start := time.Now()
	translated, err := translator.Translate(ctx, target, text)
	if err != nil {
		log.Fatalf("翻译失败: %v", err)
	}

	log.Printf("翻译完成，耗时 %s", time.Since(start).Round(time.Millisecond))
	fmt.Printf("[%s] %s\n", target.Code, translated)
}

func runTTS(ctx context.Context, cfg *config.Config, target relaymodel.LanguageTarget, text, outputPath string) {
	audio := synthesize(ctx, cfg, target, text)

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-%s-%d.%s", target.Code, time.Now().Unix(), audio.Format)
	}
	if err := os.WriteFile(outputPath, audio.Data, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	abs, _ := filepath.Abs(outputPath)
	log.Printf("合成完成，%d 字节已写入 %s", len(audio.Data), abs)
}

func runPublish(ctx context.Context, cfg *config.Config, target relaymodel.LanguageTarget, text, audioPath string) {
	var audio *relaymodel.SynthesizedAudio

	if audioPath != "" {
		data, err := os.ReadFile(audioPath)
		if err != nil {
			log.Fatalf("读取音频文件失败: %v", err)
		}
		audio = &relaymodel.SynthesizedAudio{Data: data, Format: "mp3", Code: target.Code}
	} else {
		audio = synthesize(ctx, cfg, target, text)
	}

	publisher := publish.NewClient(cfg.Room)
	defer publisher.CloseAll()

	if err := publisher.PublishAudio(ctx, target.Channel, audio); err != nil {
		log.Fatalf("音频发布失败: %v", err)
	}
	if err := publisher.PublishCaption(ctx, target.Channel, text); err != nil {
		log.Fatalf("字幕发布失败: %v", err)
	}

	log.Printf("已发布到房间 %s", target.Channel)
}

func synthesize(ctx context.Context, cfg *config.Config, target relaymodel.LanguageTarget, text string) *relaymodel.SynthesizedAudio {
	synthesizer := speech.NewSynthesizer(cfg.Speech)

	start := time.Now()
	audio, err := synthesizer.Synthesize(ctx, target, text)
	if err != nil {
		log.Fatalf("语音合成失败: %v", err)
	}

	log.Printf("合成耗时 %s", time.Since(start).Round(time.Millisecond))
	return audio
}
