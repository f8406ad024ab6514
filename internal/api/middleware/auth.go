package middleware

import (
	"net/http"
	"strings"

	"tpoms/pkg/crypto"
)

// Auth - middleware для панели управления
//
// Токен передаётся в заголовке Authorization: Bearer <token> и сверяется
// с bcrypt хешем ADMIN_TOKEN_HASH. Браузерный WebSocket не умеет ставить
// заголовки, поэтому для /ws/stream токен принимается и в параметре ?token=.
//
// Пустой хеш означает, что панель не настроена: все защищённые маршруты
// отвечают 403.
func Auth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				http.Error(w, "Control plane disabled. Set ADMIN_TOKEN_HASH.", http.StatusForbidden)
				return
			}

			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tpoms"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := crypto.VerifyToken(token, tokenHash); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tpoms", error="invalid_token"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return r.URL.Query().Get("token")
}
