package translate

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

// Service 基于大模型的口译服务。每个目标语言对应一条启动时编译好的
// 链，运行期只做Invoke，避免在热路径上重复构建模板。
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService 创建口译服务并编译提示词链。
func NewService(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{instruction}"),
		schema.UserMessage("{source}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile translation chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
	}, nil
}

// Translate 把一段中文源文本翻译为目标语言，返回净化后的译文。
func (s *Service) Translate(ctx context.Context, target relaymodel.LanguageTarget, sourceText string) (string, error) {
	sourceText = strings.TrimSpace(sourceText)
	if sourceText == "" {
		return "", fmt.Errorf("translation source text is empty")
	}

	input := map[string]any{
		"instruction": target.Instruction,
		"source":      sourceText,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run translation chain: %w", err)
	}

	translated := strings.TrimSpace(response.Content)
	if translated == "" {
		return "", fmt.Errorf("model returned empty translation for %s", target.Code)
	}

	log.Printf("[translate] %s: %d chars in, %d chars out", target.Code, len(sourceText), len(translated))
	return translated, nil
}
