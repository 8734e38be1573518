// Package procedures holds reusable procedures for action chains:
// authentication, authorization guards and rate limiting.
package procedures

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string         `mapstructure:"sub" json:"sub"`
	Roles   []string       `mapstructure:"roles" json:"roles,omitempty"`
	Claims  map[string]any `mapstructure:",remain" json:"claims,omitempty"`
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// JWTConfig configures bearer token verification. Only HS256 is accepted.
type JWTConfig struct {
	// Secret is the HS256 signing key.
	Secret []byte
	// Issuer is the expected issuer claim, if set.
	Issuer string
	// Audience is the expected audience claim, if set.
	Audience string
	// ClockSkew allows for clock skew when validating exp/nbf claims.
	ClockSkew time.Duration
	// TokenFrom extracts the token when the invocation did not come over
	// HTTP. The default reads a "token" field from an object input.
	TokenFrom func(raw any) string
}

// BearerAuth appends a procedure that verifies the "Authorization: Bearer"
// token and yields the Principal. A missing or invalid token fails the
// invocation with NOT_AUTHORIZED.
func BearerAuth[P any](pb action.ProcedureBuilder[P], cfg JWTConfig) *action.Procedure[P, Principal] {
	if len(cfg.Secret) == 0 {
		panic("procedures: BearerAuth requires a secret")
	}
	if cfg.TokenFrom == nil {
		cfg.TokenFrom = tokenField
	}
	return action.BuildProcedure(pb, func(_ context.Context, req action.ProcedureRequest[P]) (Principal, error) {
		token := bearerToken(req.HTTP)
		if token == "" && req.HTTP == nil {
			token = cfg.TokenFrom(req.Raw)
		}
		if token == "" {
			return Principal{}, schema.NewError(schema.ErrCodeNotAuthorized, "Missing bearer token")
		}
		p, err := VerifyToken(token, cfg)
		if err != nil {
			return Principal{}, schema.NewError(schema.ErrCodeNotAuthorized, "Invalid bearer token").WithCause(err)
		}
		return p, nil
	})
}

// VerifyToken validates token against cfg and decodes its claims.
func VerifyToken(token string, cfg JWTConfig) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return cfg.Secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return Principal{}, fmt.Errorf("token is invalid")
	}

	var p Principal
	if err := mapstructure.Decode(map[string]any(claims), &p); err != nil {
		return Principal{}, fmt.Errorf("decode claims: %w", err)
	}
	if p.Subject == "" {
		return Principal{}, fmt.Errorf("token has no subject")
	}
	return p, nil
}

// IssueToken signs an HS256 token for p, valid for ttl.
func IssueToken(p Principal, cfg JWTConfig, ttl time.Duration) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", fmt.Errorf("no signing key configured")
	}
	claims := jwt.MapClaims{}
	for k, v := range p.Claims {
		claims[k] = v
	}
	claims["sub"] = p.Subject
	if len(p.Roles) > 0 {
		claims["roles"] = p.Roles
	}
	now := time.Now()
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(ttl))
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	if cfg.Audience != "" {
		claims["aud"] = cfg.Audience
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func tokenField(raw any) string {
	if m, ok := raw.(map[string]any); ok {
		s, _ := m["token"].(string)
		return s
	}
	return ""
}
