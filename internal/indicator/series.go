package indicator

import (
	"math"
	"sync"
	"time"
)

// Series 保存固定容量的价格采样，按时间升序排列。
type Series struct {
	mu         sync.Mutex
	capacity   int
	timestamps []time.Time
	values     []float64
}

// NewSeries 创建容量为 capacity 的采样序列。
func NewSeries(capacity int) *Series {
	if capacity < 1 {
		capacity = 1
	}
	return &Series{
		capacity:   capacity,
		timestamps: make([]time.Time, 0, capacity),
		values:     make([]float64, 0, capacity),
	}
}

// Push 追加采样，超出容量时丢弃最旧的值。
func (s *Series) Push(ts time.Time, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == s.capacity {
		copy(s.values, s.values[1:])
		copy(s.timestamps, s.timestamps[1:])
		s.values = s.values[:len(s.values)-1]
		s.timestamps = s.timestamps[:len(s.timestamps)-1]
	}
	s.values = append(s.values, value)
	s.timestamps = append(s.timestamps, ts.UTC())
}

// Values 返回采样副本。
func (s *Series) Values() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SliceTail(s.values, len(s.values))
}

// Len 返回序列长度。
func (s *Series) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// SliceTail 返回序列末尾 n 个值，不足时返回全部。
func SliceTail(values []float64, n int) []float64 {
	if n <= 0 || len(values) == 0 {
		return nil
	}
	if len(values) <= n {
		dst := make([]float64, len(values))
		copy(dst, values)
		return dst
	}
	dst := make([]float64, n)
	copy(dst, values[len(values)-n:])
	return dst
}
