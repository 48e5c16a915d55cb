package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ayo6706/custody-ledger/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	operatorContextKey contextKey = "operator"
	traceContextKey    contextKey = "trace_id"
)

// Operator is the authenticated caller of the operations API.
type Operator struct {
	ID   string
	Role string
}

type operatorClaims struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// TokenConfig holds the HS256 key and the expected issuer and audience of
// operator tokens. Tokens are minted by the custody CLI or an external
// identity service sharing the key.
type TokenConfig struct {
	secret   []byte
	issuer   string
	audience string
}

var tokens TokenConfig

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	tokens.secret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	tokens.issuer = strings.TrimSpace(issuer)
	tokens.audience = strings.TrimSpace(audience)
}

func JWTSecret() []byte {
	return slices.Clone(tokens.secret)
}

// IssueToken signs an operator token valid for ttl.
func IssueToken(op Operator, ttl time.Duration) (string, error) {
	if len(tokens.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	if op.ID == "" || op.Role == "" {
		return "", errors.New("operator id and role are required")
	}
	now := time.Now()
	claims := operatorClaims{
		OperatorID: op.ID,
		Role:       op.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID,
			Issuer:    tokens.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if tokens.audience != "" {
		claims.Audience = jwt.ClaimStrings{tokens.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tokens.secret)
}

func parseToken(raw string) (Operator, error) {
	claims := &operatorClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if tokens.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tokens.issuer))
	}
	if tokens.audience != "" {
		opts = append(opts, jwt.WithAudience(tokens.audience))
	}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return tokens.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Operator{}, errors.New("invalid token")
	}
	if claims.OperatorID == "" {
		return Operator{}, errors.New("operator_id claim missing")
	}
	if claims.Subject != "" && claims.Subject != claims.OperatorID {
		return Operator{}, errors.New("subject does not match operator_id")
	}
	return Operator{ID: claims.OperatorID, Role: claims.Role}, nil
}

// AuthMiddleware requires a bearer operator token and stores the operator
// in the request context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		switch {
		case r.Header.Get("Authorization") == "":
			unauthorized(w, r, "auth/authorization-header-required", "Authorization header required")
			return
		case !ok || raw == "":
			unauthorized(w, r, "auth/invalid-token-format", "Invalid token format")
			return
		case len(tokens.secret) == 0:
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), "", "auth is not configured")
			return
		}

		op, err := parseToken(raw)
		if err != nil {
			unauthorized(w, r, "auth/invalid-token", "Invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), operatorContextKey, op)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole lets through operators holding one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, ok := OperatorFromContext(r.Context())
			if !ok || !slices.Contains(roles, op.Role) {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), "", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, slug, detail string) {
	problem.Write(w, r, http.StatusUnauthorized, problem.Type(slug), "", detail)
}

func OperatorFromContext(ctx context.Context) (Operator, bool) {
	if ctx == nil {
		return Operator{}, false
	}
	op, ok := ctx.Value(operatorContextKey).(Operator)
	return op, ok
}

// OperatorIDFromContext returns the authenticated operator id, or "".
func OperatorIDFromContext(ctx context.Context) string {
	op, _ := OperatorFromContext(ctx)
	return op.ID
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}
