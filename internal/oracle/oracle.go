// Package oracle 定义审批决策接口及其两种实现：
// 确定性的规则审批（默认）与大模型审批（可选）。
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tradefloor/internal/ledger"
	"tradefloor/internal/queue"
)

// Verdict 为审批结论。
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictReject  Verdict = "REJECT"
)

// Decision 表示对一条交易提案的审批结果。
type Decision struct {
	Verdict  Verdict `json:"decision"`
	Feedback string  `json:"feedback"`
}

// Validate 校验决策字段合法性。
func (d Decision) Validate() error {
	verdict := Verdict(strings.ToUpper(strings.TrimSpace(string(d.Verdict))))
	if verdict != VerdictApprove && verdict != VerdictReject {
		return fmt.Errorf("decision 字段取值非法: %s", d.Verdict)
	}
	return nil
}

// Normalize 返回字段规整后的决策。
func (d Decision) Normalize() Decision {
	return Decision{
		Verdict:  Verdict(strings.ToUpper(strings.TrimSpace(string(d.Verdict)))),
		Feedback: strings.TrimSpace(d.Feedback),
	}
}

// ReviewRequest 汇总审批一条提案所需的全部上下文。
type ReviewRequest struct {
	Trade    queue.PendingTrade
	Account  ledger.Snapshot
	Strategy string
	Price    decimal.Decimal
}

// Oracle 抽象审批决策来源。
type Oracle interface {
	Decide(ctx context.Context, req ReviewRequest) (Decision, error)
}

// Func 允许使用函数作为决策来源，便于测试注入。
type Func func(ctx context.Context, req ReviewRequest) (Decision, error)

// Decide 实现 Oracle 接口。
func (f Func) Decide(ctx context.Context, req ReviewRequest) (Decision, error) {
	if f == nil {
		return Decision{}, errors.New("oracle: 决策函数未实现")
	}
	return f(ctx, req)
}
