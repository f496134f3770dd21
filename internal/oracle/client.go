package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"tradefloor/internal/config"
)

// AIOracle 通过大模型审批提案。模型输出不可解析时不视为错误，
// 而是降级为携带原始响应的拒绝结论，避免提案永久滞留。
type AIOracle struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewAIOracle 使用给定配置创建大模型审批器。
func NewAIOracle(cfg config.OpenAIConfig, logger *zap.Logger) (*AIOracle, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}
	sdkConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &AIOracle{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkConfig),
	}, nil
}

// Decide 渲染审批提示词并调用模型。传输层错误原样返回（调用方可下个周期重试）；
// 响应内容不可解析则返回拒绝结论。
func (o *AIOracle) Decide(ctx context.Context, req ReviewRequest) (Decision, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return Decision{}, err
	}

	response, err := o.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		o.logger.Error("调用OpenAI失败", zap.Error(err))
		return Decision{}, fmt.Errorf("调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return Decision{}, errors.New("OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return Decision{}, errors.New("OpenAI 返回内容为空")
	}

	decision, parseErr := ParseDecision(rawContent)
	if parseErr != nil {
		o.logger.Warn("模型审批响应不可解析，按拒绝处理",
			zap.Error(parseErr),
			zap.String("raw_content", rawContent),
		)
		return Decision{
			Verdict:  VerdictReject,
			Feedback: fmt.Sprintf("内部错误：审批响应不是有效的 JSON。原始响应: %s", rawContent),
		}, nil
	}

	o.logger.Info("模型审批完成",
		zap.String("trader", req.Trade.TraderName),
		zap.Int64("trade_id", req.Trade.ID),
		zap.String("verdict", string(decision.Verdict)),
	)

	return decision, nil
}

// ParseDecision 从模型输出中提取审批 JSON。
// 模型偶尔会把结果包在 ```json 代码块里，先剥离再解析。
func ParseDecision(content string) (Decision, error) {
	payload, err := extractJSON(stripCodeFences(content))
	if err != nil {
		return Decision{}, err
	}

	var decision Decision
	if err := json.Unmarshal(payload, &decision); err != nil {
		return Decision{}, fmt.Errorf("解析审批JSON失败: %w", err)
	}

	decision = decision.Normalize()
	if err := decision.Validate(); err != nil {
		return Decision{}, err
	}

	return decision, nil
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// 第一行可能是语言标记，例如 ```json。
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")

	return strings.TrimSpace(trimmed)
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}

var _ Oracle = (*AIOracle)(nil)
