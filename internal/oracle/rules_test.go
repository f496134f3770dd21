package oracle

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"tradefloor/internal/ledger"
	"tradefloor/internal/queue"
)

// sampleRequest 构造一条 alice 买入 AAPL 的审批请求。
// 账户：现金 $10,000，持仓 20 股 AAPL，组合总值 $13,000。
func sampleRequest(quantity int64, price int64) ReviewRequest {
	return ReviewRequest{
		Trade: queue.PendingTrade{
			ID:         1,
			TraderName: "alice",
			Symbol:     "AAPL",
			Quantity:   quantity,
			Status:     queue.StatusPending,
		},
		Account: ledger.Snapshot{
			Name:           "alice",
			Balance:        decimal.NewFromInt(10000),
			Holdings:       map[string]int64{"AAPL": 20},
			PortfolioValue: decimal.NewFromInt(13000),
		},
		Strategy: "稳健成长",
		Price:    decimal.NewFromInt(price),
	}
}

func newRuleOracle(t *testing.T) *RuleOracle {
	t.Helper()

	o, err := NewRuleOracle(0.25, nil)
	if err != nil {
		t.Fatalf("NewRuleOracle failed: %v", err)
	}
	return o
}

func TestRuleOracle_ApprovesWithinLimit(t *testing.T) {
	o := newRuleOracle(t)

	// $1,500 交易金额，远低于 $13,000 × 25% = $3,250。
	decision, err := o.Decide(context.Background(), sampleRequest(10, 150))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decision.Verdict != VerdictApprove {
		t.Fatalf("expected APPROVE, got %s (%s)", decision.Verdict, decision.Feedback)
	}
}

func TestRuleOracle_RejectsOverRiskCap(t *testing.T) {
	o := newRuleOracle(t)

	// $4,500 超过组合总值的 25% 上限。
	decision, err := o.Decide(context.Background(), sampleRequest(30, 150))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decision.Verdict != VerdictReject {
		t.Fatalf("expected REJECT, got %s", decision.Verdict)
	}
	if !strings.Contains(decision.Feedback, "风险控制") {
		t.Errorf("feedback should cite the risk cap: %q", decision.Feedback)
	}
}

func TestRuleOracle_RejectsOversell(t *testing.T) {
	o := newRuleOracle(t)

	decision, err := o.Decide(context.Background(), sampleRequest(-25, 150))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decision.Verdict != VerdictReject {
		t.Fatalf("expected REJECT, got %s", decision.Verdict)
	}
	if !strings.Contains(decision.Feedback, "持仓") {
		t.Errorf("feedback should cite the holdings shortfall: %q", decision.Feedback)
	}
}

func TestRuleOracle_AllowsFullPositionSell(t *testing.T) {
	o := newRuleOracle(t)

	// 卖出不消耗现金，只受持仓与风险上限约束：20 股 × $150 = $3,000 < $3,250。
	decision, err := o.Decide(context.Background(), sampleRequest(-20, 150))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decision.Verdict != VerdictApprove {
		t.Fatalf("expected APPROVE, got %s (%s)", decision.Verdict, decision.Feedback)
	}
}

func TestRuleOracle_RejectsInsaneQuantity(t *testing.T) {
	o := newRuleOracle(t)

	decision, err := o.Decide(context.Background(), sampleRequest(2_000_000, 1))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decision.Verdict != VerdictReject {
		t.Fatalf("expected REJECT, got %s", decision.Verdict)
	}
}

func TestRuleOracle_RejectsInvalidPrice(t *testing.T) {
	o := newRuleOracle(t)

	decision, err := o.Decide(context.Background(), sampleRequest(10, 0))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decision.Verdict != VerdictReject {
		t.Fatalf("expected REJECT, got %s", decision.Verdict)
	}
}

func TestRuleOracle_RejectsBuyBeyondBalance(t *testing.T) {
	o := newRuleOracle(t)

	req := sampleRequest(200, 150)
	req.Account.PortfolioValue = decimal.NewFromInt(1_000_000) // 放开风险上限，单测余额检查。

	decision, err := o.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decision.Verdict != VerdictReject {
		t.Fatalf("expected REJECT, got %s", decision.Verdict)
	}
	if !strings.Contains(decision.Feedback, "余额") {
		t.Errorf("feedback should cite the cash shortfall: %q", decision.Feedback)
	}
}

func TestNewRuleOracle_RejectsInvalidFraction(t *testing.T) {
	for _, fraction := range []float64{0, -0.1, 1.5} {
		if _, err := NewRuleOracle(fraction, nil); err == nil {
			t.Errorf("fraction %f accepted", fraction)
		}
	}
}
