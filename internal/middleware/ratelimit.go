package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// StationHeader は受付端末を識別するリクエストヘッダー。
const StationHeader = "X-Station-ID"

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	AddressRate     rate.Limit    // 認証前の接続元アドレス単位のレート（req/sec）。600/60 = 10 req/sec
	AddressBurst    int           // 接続元アドレス単位のバーストサイズ
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	CheckInRate     rate.Limit    // チェックイン検証のレート（req/sec）。60/60 = 1 req/sec
	CheckInBurst    int           // チェックイン検証のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 接続元 600 req/min/address、API全般 120 req/min/subject、チェックイン検証 60 req/min/受付端末
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		AddressRate:     rate.Limit(600.0 / 60.0),
		AddressBurst:    100,
		GeneralRate:     rate.Limit(120.0 / 60.0),
		GeneralBurst:    120,
		CheckInRate:     rate.Limit(60.0 / 60.0),
		CheckInBurst:    20,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyedLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はキー（subjectまたは受付端末）ごとのリミッター集合。
type limiterSet struct {
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	limiters map[string]*keyedLimiter
}

func newLimiterSet(r rate.Limit, burst int) *limiterSet {
	return &limiterSet{rate: r, burst: burst, limiters: make(map[string]*keyedLimiter)}
}

// get はキーのリミッターを取得または作成する。
func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.RLock()
	kl, exists := s.limiters[key]
	s.mu.RUnlock()

	if exists {
		s.mu.Lock()
		kl.lastAccess = time.Now()
		s.mu.Unlock()
		return kl.limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ダブルチェック
	if kl, exists := s.limiters[key]; exists {
		kl.lastAccess = time.Now()
		return kl.limiter
	}

	limiter := rate.NewLimiter(s.rate, s.burst)
	s.limiters[key] = &keyedLimiter{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

func (s *limiterSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

// RateLimiter は接続元アドレス単位（認証前）、API全般（subject単位）、
// チェックイン検証（受付端末単位）のレート制限を管理する。
type RateLimiter struct {
	config  RateLimiterConfig
	address *limiterSet
	general *limiterSet
	checkIn *limiterSet
	stopCh  chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.AddressRate <= 0 || config.AddressBurst <= 0 {
		defaults := DefaultRateLimiterConfig()
		config.AddressRate = defaults.AddressRate
		config.AddressBurst = defaults.AddressBurst
	}

	rl := &RateLimiter{
		config:  config,
		address: newLimiterSet(config.AddressRate, config.AddressBurst),
		general: newLimiterSet(config.GeneralRate, config.GeneralBurst),
		checkIn: newLimiterSet(config.CheckInRate, config.CheckInBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// AddressMiddleware は接続元アドレス単位のレート制限ミドルウェアを返す。
// トークン検証（IdPへの問い合わせを含む）より前に配置し、
// 無効なトークンを大量に送るクライアントもここで止める。
// キーはr.RemoteAddrのホスト部分。X-Forwarded-For等のヘッダーは参照しない。
func (rl *RateLimiter) AddressMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := remoteHost(r.RemoteAddr)

			if !rl.address.get(key).Allow() {
				writeRateLimitResponse(w, rl.config.AddressRate)
				slog.Warn("rate limit exceeded",
					slog.String("remote_addr", key),
					slog.String("limit_type", "address"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// remoteHost はhost:port形式からホスト部分を取り出す。ポートがない場合はそのまま返す。
func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// NewBearerAuthMiddlewareの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if !rl.general.get(identity.SubjectID).Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("subject_id", identity.SubjectID),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CheckInMiddleware はチェックイン検証専用のレート制限ミドルウェアを返す。
// キーはX-Station-IDヘッダー、未指定の場合は操作しているスタッフのsubject。
func (rl *RateLimiter) CheckInMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			key := "subject:" + identity.SubjectID
			if station := strings.TrimSpace(r.Header.Get(StationHeader)); station != "" {
				key = "station:" + station
			}

			if !rl.checkIn.get(key).Allow() {
				writeRateLimitResponse(w, rl.config.CheckInRate)
				slog.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.String("limit_type", "check_in"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AddressLimiterCount は現在管理されている接続元アドレスリミッターのエントリ数を返す。
func (rl *RateLimiter) AddressLimiterCount() int {
	return rl.address.len()
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// CheckInLimiterCount は現在管理されているチェックイン検証リミッターのエントリ数を返す。
func (rl *RateLimiter) CheckInLimiterCount() int {
	return rl.checkIn.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	rl.address.evict(now, ttl)
	rl.general.evict(now, ttl)
	rl.checkIn.evict(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。しばらくしてから再試行してください。",
		Category: "system",
		Action:   "Retry-Afterの秒数待ってから再試行してください。",
	})
}
