package execution

import (
	"sol-trader/internal/amount"
)

// nextFee 决定失败后的下一档优先费。attempt 为已完成的尝试次数，
// 返回非空 Outcome 表示停止重试。
func nextFee(fee, increment, maxFee amount.Amount, attempt, maxRetries int) (amount.Amount, Outcome, error) {
	if attempt > maxRetries {
		return fee, OutcomeRetriesExhausted, nil
	}
	cmp, err := fee.Cmp(maxFee)
	if err != nil {
		return fee, "", err
	}
	if cmp >= 0 {
		return fee, OutcomeFeeCapExceeded, nil
	}
	next, err := fee.Add(increment)
	if err != nil {
		return fee, "", err
	}
	next, err = next.Min(maxFee)
	if err != nil {
		return fee, "", err
	}
	return next, "", nil
}

// FeeSchedule 返回所有尝试都失败时依次使用的优先费序列，
// 序列单调不减、不超过上限，长度不超过 maxRetries+1。
func FeeSchedule(start, increment, maxFee amount.Amount, maxRetries int) ([]amount.Amount, error) {
	fee, err := start.Min(maxFee)
	if err != nil {
		return nil, err
	}
	schedule := []amount.Amount{fee}
	for attempt := 1; ; attempt++ {
		next, stop, err := nextFee(fee, increment, maxFee, attempt, maxRetries)
		if err != nil {
			return nil, err
		}
		if stop != "" {
			return schedule, nil
		}
		fee = next
		schedule = append(schedule, fee)
	}
}
