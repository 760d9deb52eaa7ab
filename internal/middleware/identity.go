package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/logger"
	"github.com/alextavares/aichat-sub001/internal/service"
)

type callerCtxKey struct{}

const (
	headerDevUserID = "X-User-ID"
	headerDevPlan   = "X-User-Plan"
	headerDevRole   = "X-User-Role"
)

// RoleService marks trusted backend callers that may credit balances and
// record usage on behalf of users.
const RoleService = "service"

// publicPaths are exempt from identification.
var publicPaths = map[string]bool{
	"/health": true,
}

// Claims are the access token claims minted by the upstream identity
// provider. Subject carries the user id.
type Claims struct {
	Plan string `json:"plan"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Principal is an identified caller together with its role.
type Principal struct {
	service.Caller
	Role string
}

// IdentityConfig configures the Identity middleware.
type IdentityConfig struct {
	Secret  []byte
	Issuer  string
	DevMode bool
}

// Identity returns middleware that resolves the calling user and plan.
// Bearer tokens are HS256 JWTs; websocket upgrades may pass the token as
// ?token=. In dev mode the X-User-ID and X-User-Plan headers are trusted
// when no token is presented.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			p, err := identify(r, cfg)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), callerCtxKey{}, p)
			ctx = logger.WithUserID(ctx, p.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identify(r *http.Request, cfg IdentityConfig) (Principal, error) {
	token, err := bearerToken(r)
	if err != nil {
		return Principal{}, err
	}
	if token == "" {
		if cfg.DevMode && r.Header.Get(headerDevUserID) != "" {
			return devPrincipal(r)
		}
		return Principal{}, errors.New("authorization required")
	}
	return ParseToken(token, cfg)
}

func bearerToken(r *http.Request) (string, error) {
	// Browsers cannot set headers on websocket upgrades.
	if strings.HasPrefix(r.URL.Path, "/ws/") {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, nil
		}
	}
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", nil
	}
	token := strings.TrimPrefix(h, "Bearer ")
	if token == h {
		return "", errors.New("invalid authorization header")
	}
	return token, nil
}

func devPrincipal(r *http.Request) (Principal, error) {
	plan := catalog.PlanFree
	if v := r.Header.Get(headerDevPlan); v != "" {
		p, err := catalog.ParsePlan(v)
		if err != nil {
			return Principal{}, err
		}
		plan = p
	}
	return Principal{
		Caller: service.Caller{UserID: r.Header.Get(headerDevUserID), Plan: plan},
		Role:   r.Header.Get(headerDevRole),
	}, nil
}

// ParseToken validates an access token and returns the principal it names.
func ParseToken(token string, cfg IdentityConfig) (Principal, error) {
	if len(cfg.Secret) == 0 {
		return Principal{}, errors.New("token verification is not configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return cfg.Secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("invalid token: missing subject")
	}

	plan, err := catalog.ParsePlan(claims.Plan)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}
	return Principal{
		Caller: service.Caller{UserID: claims.Subject, Plan: plan},
		Role:   claims.Role,
	}, nil
}

// RequireRole rejects principals without the given role with 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok || p.Role != role {
				writeJSONError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext returns the identified principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(callerCtxKey{}).(Principal)
	return p, ok
}

// CallerFromContext returns the identified caller, if any.
func CallerFromContext(ctx context.Context) (service.Caller, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.Caller, ok
}

// WithPrincipal stores p in ctx. Tests use it to bypass Identity.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, callerCtxKey{}, p)
}

// WithCaller stores c in ctx with no role.
func WithCaller(ctx context.Context, c service.Caller) context.Context {
	return WithPrincipal(ctx, Principal{Caller: c})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
