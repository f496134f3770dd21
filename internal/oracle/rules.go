package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 数量超过该值视为异常提案，直接拒绝。
const maxSaneQuantity = 1_000_000

// RuleOracle 按固定规则审批：单笔交易金额不得超过组合总值的固定比例，
// 并做基本的合理性检查。规则与原风控要求一致，结果可复现，作为默认实现。
type RuleOracle struct {
	maxTradeFraction decimal.Decimal
	logger           *zap.Logger
}

// NewRuleOracle 创建规则审批器，fraction 为单笔交易占组合总值的上限。
func NewRuleOracle(fraction float64, logger *zap.Logger) (*RuleOracle, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("oracle: max_trade_fraction 必须位于(0,1], 当前 %f", fraction)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RuleOracle{
		maxTradeFraction: decimal.NewFromFloat(fraction),
		logger:           logger,
	}, nil
}

// Decide 依次执行合理性检查与风险上限检查。
func (o *RuleOracle) Decide(ctx context.Context, req ReviewRequest) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	quantity := req.Trade.Quantity
	absQuantity := quantity
	if absQuantity < 0 {
		absQuantity = -absQuantity
	}

	if absQuantity == 0 {
		return reject("提案数量为0，无法审批。"), nil
	}
	if absQuantity > maxSaneQuantity {
		return reject(fmt.Sprintf("提案数量 %d 明显异常，超过合理上限 %d。", absQuantity, int64(maxSaneQuantity))), nil
	}
	if !req.Price.IsPositive() {
		return reject(fmt.Sprintf("标的 %s 的参考价格无效。", req.Trade.Symbol)), nil
	}

	if quantity < 0 {
		held := req.Account.Holdings[req.Trade.Symbol]
		if absQuantity > held {
			return reject(fmt.Sprintf("卖出 %d 股 %s 超过当前持仓 %d 股。", absQuantity, req.Trade.Symbol, held)), nil
		}
	}

	tradeValue := req.Price.Mul(decimal.NewFromInt(absQuantity))
	if quantity > 0 && tradeValue.GreaterThan(req.Account.Balance) {
		return reject(fmt.Sprintf("买入金额 $%s 超过账户现金余额 $%s。", tradeValue.StringFixed(2), req.Account.Balance.StringFixed(2))), nil
	}

	if req.Account.PortfolioValue.IsPositive() {
		limit := req.Account.PortfolioValue.Mul(o.maxTradeFraction)
		if tradeValue.GreaterThan(limit) {
			return reject(fmt.Sprintf("因风险控制拒绝：交易金额 $%s 超过组合总值 $%s 的 %s%% 上限。",
				tradeValue.StringFixed(2),
				req.Account.PortfolioValue.StringFixed(2),
				o.maxTradeFraction.Mul(decimal.NewFromInt(100)).StringFixed(0),
			)), nil
		}
	}

	return Decision{
		Verdict:  VerdictApprove,
		Feedback: fmt.Sprintf("已批准：交易金额 $%s 处于风险上限之内。", tradeValue.StringFixed(2)),
	}, nil
}

func reject(feedback string) Decision {
	return Decision{
		Verdict:  VerdictReject,
		Feedback: feedback,
	}
}

var _ Oracle = (*RuleOracle)(nil)
