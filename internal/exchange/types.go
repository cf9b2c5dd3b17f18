package exchange

import "time"

// Timeframe1m 为参考价格使用的K线周期。
const Timeframe1m = "1m"

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
