package offramp

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"offramp-core/pkg/config"
)

var (
	minorUnit  = decimal.New(1, -2)
	hundred    = decimal.NewFromInt(100)
	fiatPlaces = int32(2)
)

// FeeTier 闭区间 [Min, Max]，Max 为 nil 表示无上限
type FeeTier struct {
	Min        decimal.Decimal
	Max        *decimal.Decimal
	Percentage decimal.Decimal
}

func (t FeeTier) contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.Min) {
		return false
	}
	return t.Max == nil || amount.LessThanOrEqual(*t.Max)
}

// FeeQuote 手续费拆分结果，Fee + Payable = Fiat
type FeeQuote struct {
	Fiat       decimal.Decimal
	Fee        decimal.Decimal
	Payable    decimal.Decimal
	Percentage decimal.Decimal
}

// FeeCalculator 分档百分比手续费
type FeeCalculator struct {
	tiers []FeeTier
}

// NewFeeCalculator 校验档位: 从 0 开始、相邻档位以 0.01 衔接、只有最后一档无上限、
// 百分比在 [0, 100] 且不随金额增加
func NewFeeCalculator(tiers []FeeTier) (*FeeCalculator, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrInvalidFeeTiers)
	}
	for i, t := range tiers {
		if t.Percentage.IsNegative() || t.Percentage.GreaterThan(hundred) {
			return nil, fmt.Errorf("%w: tier %d percentage %s out of range", ErrInvalidFeeTiers, i, t.Percentage)
		}
		if i == 0 {
			if !t.Min.IsZero() {
				return nil, fmt.Errorf("%w: first tier must start at 0", ErrInvalidFeeTiers)
			}
		} else {
			prev := tiers[i-1]
			if prev.Max == nil {
				return nil, fmt.Errorf("%w: only the last tier may be unbounded", ErrInvalidFeeTiers)
			}
			if !t.Min.Equal(prev.Max.Add(minorUnit)) {
				return nil, fmt.Errorf("%w: tier %d starts at %s, want %s", ErrInvalidFeeTiers, i, t.Min, prev.Max.Add(minorUnit))
			}
			if t.Percentage.GreaterThan(prev.Percentage) {
				return nil, fmt.Errorf("%w: tier %d percentage increases", ErrInvalidFeeTiers, i)
			}
		}
		if t.Max != nil && t.Max.LessThan(t.Min) {
			return nil, fmt.Errorf("%w: tier %d max below min", ErrInvalidFeeTiers, i)
		}
	}
	if tiers[len(tiers)-1].Max != nil {
		return nil, fmt.Errorf("%w: last tier must be unbounded", ErrInvalidFeeTiers)
	}
	return &FeeCalculator{tiers: tiers}, nil
}

// FeeTiersFromConfig 解析配置中的档位
func FeeTiersFromConfig(cfgs []config.FeeTierConfig) ([]FeeTier, error) {
	tiers := make([]FeeTier, 0, len(cfgs))
	for i, c := range cfgs {
		minV, err := decimal.NewFromString(strings.TrimSpace(c.Min))
		if err != nil {
			return nil, fmt.Errorf("%w: tier %d min: %v", ErrInvalidFeeTiers, i, err)
		}
		pct, err := decimal.NewFromString(strings.TrimSpace(c.Percentage))
		if err != nil {
			return nil, fmt.Errorf("%w: tier %d percentage: %v", ErrInvalidFeeTiers, i, err)
		}
		tier := FeeTier{Min: minV, Percentage: pct}
		if s := strings.TrimSpace(c.Max); s != "" {
			maxV, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("%w: tier %d max: %v", ErrInvalidFeeTiers, i, err)
			}
			tier.Max = &maxV
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

// Tier 返回金额 (已截断到分) 所在的档位
func (c *FeeCalculator) Tier(fiat decimal.Decimal) (FeeTier, error) {
	amount := fiat.RoundFloor(fiatPlaces)
	if amount.IsNegative() {
		return FeeTier{}, fmt.Errorf("negative amount %s", fiat)
	}
	for _, t := range c.tiers {
		if t.contains(amount) {
			return t, nil
		}
	}
	// 档位连续且最后一档无上限，理论上不会到这里
	return FeeTier{}, fmt.Errorf("%w: no tier for %s", ErrInvalidFeeTiers, amount)
}

// ComputeFee 手续费 = 金额 * 百分比 / 100，四舍五入到分
func (c *FeeCalculator) ComputeFee(fiat decimal.Decimal) (decimal.Decimal, error) {
	tier, err := c.Tier(fiat)
	if err != nil {
		return decimal.Zero, err
	}
	return fiat.RoundFloor(fiatPlaces).Mul(tier.Percentage).Div(hundred).Round(fiatPlaces), nil
}

// Quote 扣费后金额不为正时返回 ErrFeeTooSmall
func (c *FeeCalculator) Quote(fiat decimal.Decimal) (*FeeQuote, error) {
	amount := fiat.RoundFloor(fiatPlaces)
	tier, err := c.Tier(amount)
	if err != nil {
		return nil, err
	}
	fee := amount.Mul(tier.Percentage).Div(hundred).Round(fiatPlaces)
	payable := amount.Sub(fee)
	if !payable.IsPositive() {
		return nil, fmt.Errorf("%w: %s leaves %s after fee %s", ErrFeeTooSmall, amount, payable, fee)
	}
	return &FeeQuote{Fiat: amount, Fee: fee, Payable: payable, Percentage: tier.Percentage}, nil
}
