package authx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKID   = errors.New("unknown kid")
)

type AuthContext struct {
	Subject string
	Email   string
	Roles   []string
	Claims  map[string]any
}

type contextKey struct{}

func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, auth)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	a, ok := ctx.Value(contextKey{}).(AuthContext)
	return a, ok
}

// Verifier validates bearer tokens against an OIDC issuer, resolving
// signing keys through a TTL-bound JWKS cache.
type Verifier struct {
	issuer   string
	audience string
	jwks     *jwksCache
	parser   *jwt.Parser
}

func NewVerifier(issuer string, audience string, jwksURL string, ttlSeconds int, clockSkewSeconds int) (*Verifier, error) {
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	if issuer == "" || audience == "" {
		return nil, errors.New("issuer and audience are required")
	}
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	if clockSkewSeconds < 0 {
		clockSkewSeconds = 0
	}
	return &Verifier{
		issuer:   issuer,
		audience: audience,
		jwks: &jwksCache{
			url:    jwksURL,
			ttl:    time.Duration(ttlSeconds) * time.Second,
			client: &http.Client{Timeout: 5 * time.Second},
			keys:   map[string]any{},
		},
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
			jwt.WithAudience(audience),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(time.Duration(clockSkewSeconds)*time.Second),
		),
	}, nil
}

func (v *Verifier) Verify(ctx context.Context, rawToken string) (AuthContext, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return AuthContext{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			return nil, ErrUnknownKID
		}
		return v.jwks.key(ctx, kid)
	})
	if err != nil {
		return AuthContext{}, ErrInvalidToken
	}

	subject := strings.TrimSpace(fmt.Sprint(claims["sub"]))
	if subject == "" || claims["sub"] == nil {
		return AuthContext{}, ErrInvalidToken
	}
	email := ""
	if claims["email"] != nil {
		email = strings.TrimSpace(fmt.Sprint(claims["email"]))
	}

	return AuthContext{
		Subject: subject,
		Email:   email,
		Roles:   parseRoles(claims),
		Claims:  map[string]any(claims),
	}, nil
}

type jwksCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	keys      map[string]any
	expiresAt time.Time
}

func (c *jwksCache) key(ctx context.Context, kid string) (any, error) {
	c.mu.RLock()
	key, fresh := c.keys[kid], time.Now().Before(c.expiresAt)
	c.mu.RUnlock()
	if key != nil && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		// Serve a stale key rather than failing every request while
		// the issuer is briefly unreachable.
		c.mu.RLock()
		key = c.keys[kid]
		c.mu.RUnlock()
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	c.mu.RLock()
	key = c.keys[kid]
	c.mu.RUnlock()
	if key == nil {
		return nil, ErrUnknownKID
	}
	return key, nil
}

func (c *jwksCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jwks fetch failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	set, err := jwk.Parse(body)
	if err != nil {
		return err
	}

	keys := make(map[string]any)
	iter := set.Keys(ctx)
	for iter.Next(ctx) {
		key, ok := iter.Pair().Value.(jwk.Key)
		if !ok || strings.TrimSpace(key.KeyID()) == "" {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			continue
		}
		keys[key.KeyID()] = raw
	}
	if len(keys) == 0 {
		return errors.New("no usable jwks keys")
	}

	c.mu.Lock()
	c.keys = keys
	c.expiresAt = time.Now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

func parseRoles(claims map[string]any) []string {
	var roles []string
	add := func(role string) {
		role = strings.TrimSpace(role)
		if role == "" {
			return
		}
		for _, existing := range roles {
			if existing == role {
				return
			}
		}
		roles = append(roles, role)
	}

	switch t := claims["roles"].(type) {
	case []string:
		for _, role := range t {
			add(role)
		}
	case []any:
		for _, role := range t {
			add(fmt.Sprint(role))
		}
	case string:
		for _, role := range strings.Fields(t) {
			add(role)
		}
	}
	if s, ok := claims["scp"].(string); ok {
		for _, scope := range strings.Fields(s) {
			add(scope)
		}
	}
	return roles
}
