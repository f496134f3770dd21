package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/shopspring/decimal"
)

const reviewTemplate = `
你是一家交易公司的合规与风险监督员。你的任务是审查交易员提交的交易提案，并决定批准或拒绝。

**提案详情：**
- 交易员: {{ .Trade.TraderName }}
- 方向: {{ if gt .Trade.Quantity 0 }}买入{{ else }}卖出{{ end }}
- 标的: {{ .Trade.Symbol }}
- 数量: {{ .AbsQuantity }}
- 交易员的理由: "{{ .Trade.Rationale }}"

**分析数据：**
- 交易员策略: "{{ .Strategy }}"
- 账户当前状态: {{ .AccountJSON }}
- 组合总值: ${{ .Account.PortfolioValue }}
- 标的当前价格 ({{ .Trade.Symbol }}): ${{ .Price }}
- 交易金额估算: ${{ .TradeValue }}

审批时请依次考虑：
1. 风险控制：单笔交易金额超过组合总值 25% 的一律拒绝；
2. 策略一致性：提案理由必须与交易员声明的策略逻辑自洽，不一致的从严拒绝；
3. 合理性检查：卖出数量是否超过持仓、数量是否异常、标的是否有效。

请严格输出唯一的 JSON 对象，格式如下：
{
  "decision": "APPROVE" | "REJECT",
  "feedback": "清晰简洁的决策说明；若为拒绝，应具有建设性以便交易员改进。"
}
`

var reviewTmpl = template.Must(template.New("review").Parse(reviewTemplate))

type promptContext struct {
	ReviewRequest
	AbsQuantity int64
	AccountJSON string
	TradeValue  string
}

// BuildPrompt 将审批上下文渲染成提示词字符串。
func BuildPrompt(req ReviewRequest) (string, error) {
	accountJSON, err := json.MarshalIndent(req.Account, "", "  ")
	if err != nil {
		return "", fmt.Errorf("oracle: 序列化账户快照失败: %w", err)
	}

	absQuantity := req.Trade.Quantity
	if absQuantity < 0 {
		absQuantity = -absQuantity
	}

	ctx := promptContext{
		ReviewRequest: req,
		AbsQuantity:   absQuantity,
		AccountJSON:   string(accountJSON),
		TradeValue:    req.Price.Mul(decimal.NewFromInt(absQuantity)).StringFixed(2),
	}

	var buf bytes.Buffer
	if err := reviewTmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("oracle: 渲染提示词失败: %w", err)
	}

	return buf.String(), nil
}
