package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrMaintenance 表示交易所处于维护状态，本轮不再重试。
	ErrMaintenance = errors.New("exchange on maintenance")
	// ErrNoData 表示交易所未返回可用K线。
	ErrNoData = errors.New("exchange: 无行情数据")
)

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		// 限流、超时与节点不可用属于临时性错误
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType, ccxt.RequestTimeoutErrType, ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType, ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType, ccxt.NullResponseErrType:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify 将维护类错误归一为 ErrMaintenance，并给出是否重试。
func classify(err error) (error, bool) {
	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) && ccxtErr.Type == ccxt.OnMaintenanceErrType {
		msg := strings.TrimSpace(ccxtErr.Message)
		if msg == "" {
			msg = "exchange under maintenance"
		}
		return fmt.Errorf("%w: %s", ErrMaintenance, msg), false
	}
	return err, IsRetryable(err)
}
