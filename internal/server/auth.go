package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// AuthConfig enables bearer authentication. An empty JWTSecret disables it.
type AuthConfig struct {
	JWTSecret string
}

// clockSkew is tolerated on exp, nbf and iat.
const clockSkew = 30 * time.Second

var (
	errNoToken   = errors.New("authentication required")
	errNoSubject = errors.New("token has no subject")
)

// verifier accepts HS256 tokens signed with one shared secret.
type verifier struct {
	key    []byte
	parser *jwt.Parser
}

func newVerifier(cfg AuthConfig) *verifier {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil
	}
	return &verifier{
		key: []byte(cfg.JWTSecret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(clockSkew),
		),
	}
}

// subject verifies the Authorization header value and returns the token's
// subject.
func (v *verifier) subject(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", errNoToken
	}
	var claims jwt.RegisteredClaims
	if _, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errNoSubject
	}
	return claims.Subject, nil
}

type subjectKey struct{}

// SubjectFromContext returns the authenticated token subject, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(subjectKey{}).(string)
	return sub, ok && sub != ""
}

// requireToken guards every route under basePath except health. It is a
// no-op when auth is disabled.
func requireToken(basePath string, cfg AuthConfig, logger zerolog.Logger) func(http.Handler) http.Handler {
	v := newVerifier(cfg)
	open := strings.TrimSuffix(basePath, "/") + "/health"
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == open || !strings.HasPrefix(r.URL.Path, basePath) {
				next.ServeHTTP(w, r)
				return
			}
			sub, err := v.subject(r.Header.Get("Authorization"))
			if err != nil {
				logger.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected request")
				w.Header().Set("WWW-Authenticate", `Bearer realm="memopipe"`)
				msg := "invalid credentials"
				if errors.Is(err, errNoToken) {
					msg = err.Error()
				}
				writeError(w, http.StatusUnauthorized, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, sub)))
		})
	}
}
