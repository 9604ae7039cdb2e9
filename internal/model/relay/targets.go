package relay

const (
	krInstruction = `You are a real-time interpreter.
When the speaker speaks Chinese, translate verbally into Korean.
Maintain tone, pace, and emotion.
Respond only in Korean.`

	vnInstruction = `You are a real-time interpreter.
When the speaker speaks Chinese, translate verbally into Vietnamese.
Maintain tone, pace, and emotion.
Respond only in Vietnamese.`

	jpInstruction = `You are a real-time interpreter.
When the speaker speaks Chinese, translate verbally into Japanese.
Maintain tone, pace, and emotion.
Respond only in Japanese.`
)

// Seed 返回内置的目标语言配置，房间名按 prefix+code 生成。
func Seed(roomPrefix string) []LanguageTarget {
	return []LanguageTarget{
		{
			Code:        "kr",
			Instruction: krInstruction,
			Channel:     roomPrefix + "kr",
			Voice:       "multi_female_sarah_bigtts",
			Locale:      "ko-KR",
		},
		{
			Code:        "vn",
			Instruction: vnInstruction,
			Channel:     roomPrefix + "vn",
			Voice:       "multi_female_anna_bigtts",
			Locale:      "vi-VN",
		},
		{
			Code:        "jp",
			Instruction: jpInstruction,
			Channel:     roomPrefix + "jp",
			Voice:       "multi_female_kanon_bigtts",
			Locale:      "ja-JP",
		},
	}
}

// FindTarget 在目标表中按语言短码查找。
func FindTarget(targets []LanguageTarget, code string) (LanguageTarget, bool) {
	for _, target := range targets {
		if target.Code == code {
			return target, true
		}
	}
	return LanguageTarget{}, false
}
