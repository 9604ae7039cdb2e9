package relay

import "time"

// TranscriptEvent 识别服务产出的一条转写事件。
// 同一句话会先以多个interim快照出现，最终以IsFinal=true收尾。
type TranscriptEvent struct {
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Timestamp time.Time `json:"timestamp"`
}

// LanguageTarget 描述一种翻译目标语言及其输出房间。
// 进程启动时装配，之后只读。
type LanguageTarget struct {
	// Code 为目标语言短码，如 "kr"、"vn"、"jp"。
	Code string `json:"code"`
	// Instruction 为翻译指令模板，始终置于源文本之前。
	Instruction string `json:"instruction"`
	// Channel 为翻译结果发布到的房间名。
	Channel string `json:"channel"`
	// Voice 为该语言使用的TTS音色。
	Voice string `json:"voice"`
	// Locale 为TTS请求中的语言标签，如 "ko-KR"。
	Locale string `json:"locale"`
}

// TranslationResult 一次翻译调用的产物，仅在单条流水线内存活。
type TranslationResult struct {
	SourceText string `json:"sourceText"`
	TargetText string `json:"targetText"`
	Code       string `json:"code"`
}

// SynthesizedAudio 合成完成的音频，发布后即丢弃。
type SynthesizedAudio struct {
	Data       []byte `json:"-"`
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
	Code       string `json:"code"`
}
