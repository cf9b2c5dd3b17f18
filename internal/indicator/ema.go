package indicator

import (
	"errors"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
)

// ErrInsufficientData 表示采样数量不足以计算指标。
var ErrInsufficientData = errors.New("indicator: 采样数量不足")

// EMA 计算序列的指数移动平均并返回最新值。
func EMA(values []float64, period int) (float64, error) {
	if period < 2 {
		return 0, fmt.Errorf("indicator: EMA 周期 %d 无效", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("%w: 需要 %d 个，实际 %d 个", ErrInsufficientData, period, len(values))
	}
	v := Last(talib.Ema(values, period))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("indicator: EMA 结果无效")
	}
	return v, nil
}

// DipThreshold 返回相对 EMA 下跌 dipPercent 后的价格。
func DipThreshold(ema, dipPercent float64) float64 {
	return ema * (1 - dipPercent/100)
}
