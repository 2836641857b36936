package middleware

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/hitoshi/mockauth/internal/model"
)

// BusyGuard は認証操作の多重実行を防ぐ。
// 画面側で送信ボタンを無効化するのと同じく、実行中の操作がある間は
// 後続のリクエストを409 Conflictで拒否する。
type BusyGuard struct {
	inFlight atomic.Bool
}

// NewBusyGuard はBusyGuardを生成する。
func NewBusyGuard() *BusyGuard {
	return &BusyGuard{}
}

// Busy は操作が実行中であればtrueを返す。
func (g *BusyGuard) Busy() bool {
	return g.inFlight.Load()
}

// Middleware は多重実行ガードのミドルウェアを返す。
func (g *BusyGuard) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.inFlight.CompareAndSwap(false, true) {
				slog.Warn("rejected concurrent auth operation",
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFromContext(r.Context())),
				)
				WriteErrorResponse(w, http.StatusConflict, model.NewBusyError())
				return
			}
			defer g.inFlight.Store(false)

			next.ServeHTTP(w, r)
		})
	}
}
