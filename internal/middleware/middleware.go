package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/user/marketing-insights-api/internal/services/analysis"
	"github.com/user/marketing-insights-api/internal/services/auth"
)

// SessionKey - ключ сессии анализа в контексте gin
const SessionKey = "session"

// CORS middleware для кроссдоменных запросов.
// Origin отражается только из списка allowedOrigins, cookie сессии передаются лишь им.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}

	return func(c *gin.Context) {
		c.Writer.Header().Add("Vary", "Origin")

		origin := c.GetHeader("Origin")
		if origin != "" && !allowed[origin] {
			if c.Request.Method == http.MethodOptions {
				log.Printf("[CORS] Отклонён preflight с Origin %s", origin)
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			// Без заголовков CORS браузер не отдаст ответ чужому сайту
			c.Next()
			return
		}

		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
			c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SessionOptions - параметры cookie сессии
type SessionOptions struct {
	CookieName string
	Secure     bool
}

// Session привязывает запрос к сессии анализа по подписанной cookie.
// Нет cookie или токен недействителен - создаётся новая сессия.
func Session(store *analysis.Store, signer *auth.Signer, opts SessionOptions) gin.HandlerFunc {
	if opts.CookieName == "" {
		opts.CookieName = "insights_session"
	}

	return func(c *gin.Context) {
		var sess *analysis.Session

		if token, err := c.Cookie(opts.CookieName); err == nil && token != "" {
			if id, err := signer.ValidateSessionToken(token); err == nil {
				sess = store.GetOrCreate(id)
			}
		}

		if sess == nil {
			sess = store.Create()
			token, err := signer.GenerateSessionToken(sess.ID)
			if err != nil {
				log.Printf("[Session] Ошибка выпуска токена: %v", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Не удалось создать сессию"})
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(opts.CookieName, token, int(signer.TTL().Seconds()), "/", "", opts.Secure, true)
		}

		c.Set(SessionKey, sess)
		c.Next()
	}
}

// CurrentSession возвращает сессию, установленную middleware Session
func CurrentSession(c *gin.Context) (*analysis.Session, bool) {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*analysis.Session)
	return sess, ok
}
