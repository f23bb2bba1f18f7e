package auth

import (
	"crypto/rand"
	"errors"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "marketing-insights"

// SessionClaims - claims токена сессии
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Signer - выпуск и проверка токенов сессии
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner создаёт подписчик. Без секрета генерируется случайный:
// тогда токены недействительны после перезапуска, как и сами сессии в памяти.
func NewSigner(secret string, ttl time.Duration) *Signer {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("не удалось сгенерировать секрет сессий: " + err.Error())
		}
		log.Println("[Auth] Секрет сессий не задан, используется случайный")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: key, ttl: ttl, now: time.Now}
}

// TTL возвращает срок жизни токена
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// GenerateSessionToken выпускает токен для идентификатора сессии
func (s *Signer) GenerateSessionToken(sessionID string) (string, error) {
	now := s.now()
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateSessionToken проверяет токен и возвращает идентификатор сессии
func (s *Signer) ValidateSessionToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("неверный метод подписи")
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid && claims.SessionID != "" {
		return claims.SessionID, nil
	}

	return "", errors.New("неверный токен")
}
