// Package upstream は外部呼び出し（DB・IdP・会員管理）の時間制限と再試行を提供する。
package upstream

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
)

const (
	// DefaultTimeout は外部呼び出し1回あたりの既定の制限時間。
	DefaultTimeout = 3 * time.Second
	// DefaultRetryBase は再試行までの基準待機時間。実際の待機は±50%の揺らぎを持つ。
	DefaultRetryBase = 50 * time.Millisecond
)

// Policy は外部呼び出しの時間制限と再試行の方針。
type Policy struct {
	Timeout   time.Duration
	RetryBase time.Duration

	// OnTimeout はタイムアウト発生時に呼び出される（メトリクス記録用）。
	OnTimeout func(op string)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy はPolicyを生成する。timeoutが0以下の場合はDefaultTimeoutを使用する。
func NewPolicy(timeout time.Duration) *Policy {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Policy{
		Timeout:   timeout,
		RetryBase: DefaultRetryBase,
		sleep:     sleepContext,
	}
}

// Call はfnを制限時間付きで1回だけ実行する。書き込みなど再試行してはならない呼び出しに使う。
// 制限時間を超えた場合はUpstreamTimeoutを返す。
func Call[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	v, err := fn(callCtx)
	if err != nil {
		return v, p.classify(ctx, callCtx, op, err)
	}
	return v, nil
}

// Read は冪等な読み取りfnを実行し、一時的な失敗であれば揺らぎ付きの待機後に1回だけ再試行する。
// ドメインエラー（AccessError）と呼び出し元のキャンセルは再試行しない。
func Read[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := Call(ctx, p, op, fn)
	if err == nil || !retryable(ctx, err) {
		return v, err
	}

	slog.Warn("retrying upstream read",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)

	if sleepErr := p.sleepFn()(ctx, p.jitter()); sleepErr != nil {
		return v, err
	}
	return Call(ctx, p, op, fn)
}

// classify はタイムアウトをUpstreamTimeoutに変換する。
func (p *Policy) classify(parent, callCtx context.Context, op string, err error) error {
	if _, ok := model.KindOf(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || (callCtx.Err() == context.DeadlineExceeded && parent.Err() == nil) {
		if p.OnTimeout != nil {
			p.OnTimeout(op)
		}
		return model.NewAccessError(model.KindUpstreamTimeout, op, err)
	}
	return err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if kind, ok := model.KindOf(err); ok {
		return kind == model.KindUpstreamTimeout
	}
	return !errors.Is(err, context.Canceled)
}

// jitter はRetryBaseの50%〜150%の待機時間を返す。
func (p *Policy) jitter() time.Duration {
	base := p.RetryBase
	if base <= 0 {
		base = DefaultRetryBase
	}
	return base/2 + time.Duration(rand.Int64N(int64(base)+1))
}

func (p *Policy) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

func (p *Policy) sleepFn() func(ctx context.Context, d time.Duration) error {
	if p.sleep == nil {
		return sleepContext
	}
	return p.sleep
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
