package speech

import (
	"strings"

	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

const defaultVoice = "multi_female_sarah_bigtts"

// resolveVoice 返回目标语言使用的音色，未配置时回退到默认音色。
func resolveVoice(target relaymodel.LanguageTarget) string {
	voice := strings.TrimSpace(target.Voice)
	if voice == "" {
		return defaultVoice
	}
	return voice
}

// resolveResourceID 根据音色系列推断资源ID。复刻音色（S_前缀）走
// megatts，bigtts/seed系列走seed资源，其余走通用资源。
func resolveResourceID(voice string) string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if voice == "" {
		return defaultResource
	}

	if strings.HasPrefix(voice, "S_") {
		return megaResource
	}

	normalized := strings.ToLower(voice)
	seedHints := []string{
		"bigtts",
		"seed",
		"megatts",
		"uranus",
		"venus",
		"jupiter",
		"saturn",
		"neptune",
		"mercury",
		"pluto",
		"mars",
	}
	for _, hint := range seedHints {
		if strings.Contains(normalized, hint) {
			return seedResource
		}
	}

	return defaultResource
}
