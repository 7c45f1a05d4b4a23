package llm

import "time"

// InvokePolicy 模型调用的重试/降级策略，
// 独立于调用循环本身，便于单独测试
type InvokePolicy struct {
	MaxAttempts       int           // 总尝试次数上限
	BackoffBase       time.Duration // 初始退避时间，0表示失败后立即重试
	BackoffMultiplier float64       // 每次重试的退避倍数
	FallbackVariant   string        // 降级目标变体
	ForceFallbackFrom int           // 从第几次尝试起强制使用降级变体（0起算）
	Retryable         func(error) bool
}

// SinglePolicy 单图路径策略：首选变体尝试一次，
// 过载时立即降级到默认变体再试一次
func SinglePolicy(fallbackVariant string) InvokePolicy {
	return InvokePolicy{
		MaxAttempts:       2,
		BackoffBase:       0,
		BackoffMultiplier: 2.0,
		FallbackVariant:   fallbackVariant,
		ForceFallbackFrom: 1,
		Retryable:         IsOverloaded,
	}
}

// BatchPolicy 多图路径策略：最多3次尝试，指数退避（2s、4s），
// 首次失败后无论当前变体为何都强制切换到默认变体
func BatchPolicy(fallbackVariant string, backoffBase time.Duration, maxAttempts int) InvokePolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	return InvokePolicy{
		MaxAttempts:       maxAttempts,
		BackoffBase:       backoffBase,
		BackoffMultiplier: 2.0,
		FallbackVariant:   fallbackVariant,
		ForceFallbackFrom: 1,
		Retryable:         IsOverloaded,
	}
}

// VariantFor 返回第attempt次尝试（0起算）应使用的变体
func (p InvokePolicy) VariantFor(attempt int, preferred string) string {
	if attempt >= p.ForceFallbackFrom && p.FallbackVariant != "" {
		return p.FallbackVariant
	}
	return preferred
}

// BackoffFor 返回第attempt次尝试失败后的退避时间
func (p InvokePolicy) BackoffFor(attempt int) time.Duration {
	if p.BackoffBase <= 0 {
		return 0
	}
	delay := p.BackoffBase
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.BackoffMultiplier)
	}
	return delay
}
