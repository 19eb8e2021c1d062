package rpc

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const clockSkew = 2 * time.Minute

// authenticator validates HMAC-signed bearer tokens. The token subject names
// the client for rate limiting; the acting account comes from SignedCall.
type authenticator struct {
	secret []byte
}

func newAuthenticator(secret string) *authenticator {
	return &authenticator{secret: []byte(strings.TrimSpace(secret))}
}

func (a *authenticator) enabled() bool { return len(a.secret) > 0 }

func (a *authenticator) authenticate(r *http.Request) (string, *RPCError) {
	if !a.enabled() {
		return "", &RPCError{Code: codeUnauthorized, Message: "RPC authentication secret not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tokenString == "" {
		return "", &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	subject, err := a.parseToken(tokenString)
	if err != nil {
		return "", &RPCError{Code: codeUnauthorized, Message: "invalid token", Data: err.Error()}
	}
	return subject, nil
}

func (a *authenticator) parseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(clockSkew), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("token subject required")
	}
	return subject, nil
}

// IssueToken signs a bearer token for subject valid for ttl.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("secret required")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles write calls per authenticated token subject. Limiters
// idle for limiterIdleTTL are evicted.
type rateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (r *rateLimiter) allow(subject string) bool {
	now := r.now()
	r.mu.Lock()
	if now.Sub(r.lastSweep) >= limiterIdleTTL {
		for key, v := range r.visitors {
			if now.Sub(v.lastSeen) >= limiterIdleTTL {
				delete(r.visitors, key)
			}
		}
		r.lastSweep = now
	}
	v, ok := r.visitors[subject]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[subject] = v
	}
	v.lastSeen = now
	r.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

func (r *rateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}
