package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"phaseline/internal/domain"
	"phaseline/internal/logging"
	"phaseline/internal/repo"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	// DevLogin exposes POST /auth/dev/login, which mints a token for any actor.
	DevLogin bool
	Logger   *zap.Logger
}

// Principal is the authenticated caller. OrgID restricts the caller to one
// organization; it is empty for legacy header callers.
type Principal struct {
	Actor  domain.Actor
	OrgID  string
	Source string
}

type principalKey struct{}

var errNoCredentials = errors.New("no credentials")

// authenticator resolves the caller from one kind of credential. It returns
// errNoCredentials when the request does not carry that kind.
type authenticator func(*http.Request) (Principal, error)

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// actorFor returns the caller acting inside orgID.
func actorFor(ctx context.Context, orgID string) (domain.Actor, huma.StatusError) {
	p, ok := principalFrom(ctx)
	if !ok || p.Actor.ID == "" {
		return domain.Actor{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if p.OrgID != "" && p.OrgID != orgID {
		return domain.Actor{}, newAPIError(http.StatusForbidden, "forbidden", "credentials are not valid for this organization", map[string]any{"org_id": orgID})
	}
	return p.Actor, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	Org  string `json:"org,omitempty"`
}

// SignToken mints an HS256 token for actor in org.
func SignToken(secret string, actor domain.Actor, org string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "phaseline",
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: actor.Name,
		Role: actor.Role,
		Org:  org,
	}).SignedString([]byte(secret))
}

func bearerAuth(secret string) authenticator {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	return func(req *http.Request) (Principal, error) {
		authz := strings.TrimSpace(req.Header.Get("Authorization"))
		if authz == "" {
			return Principal{}, errNoCredentials
		}
		scheme, token, ok := strings.Cut(authz, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			return Principal{}, errors.New("malformed authorization header")
		}
		if strings.TrimSpace(secret) == "" {
			return Principal{}, errors.New("jwt secret not configured")
		}
		claims := &jwtClaims{}
		if _, err := parser.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (any, error) {
			return []byte(secret), nil
		}); err != nil {
			return Principal{}, err
		}
		if claims.Subject == "" {
			return Principal{}, errors.New("subject claim required")
		}
		return Principal{
			Actor:  domain.Actor{ID: claims.Subject, Name: claims.Name, Role: claims.Role},
			OrgID:  claims.Org,
			Source: "jwt",
		}, nil
	}
}

func apiKeyAuth(keys repo.Repo) authenticator {
	return func(req *http.Request) (Principal, error) {
		key := strings.TrimSpace(req.Header.Get("X-Api-Key"))
		if key == "" {
			return Principal{}, errNoCredentials
		}
		if keys.DB == nil {
			return Principal{}, errors.New("api keys not configured")
		}
		k, err := keys.GetAPIKeyByHash(req.Context(), repo.HashAPIKey(key))
		if err != nil {
			return Principal{}, err
		}
		if k.ActorID == "" || k.OrgID == "" {
			return Principal{}, errors.New("api key has no actor or org")
		}
		return Principal{Actor: k.Actor(), OrgID: k.OrgID, Source: "api_key"}, nil
	}
}

// legacyHeaderAuth trusts X-Actor-* headers without verification.
func legacyHeaderAuth(logger *zap.Logger) authenticator {
	return func(req *http.Request) (Principal, error) {
		id := strings.TrimSpace(req.Header.Get("X-Actor-Id"))
		if id == "" {
			return Principal{}, errNoCredentials
		}
		logger.Warn("unauthenticated X-Actor-Id header accepted", zap.String("actor_id", id), zap.String("path", req.URL.Path))
		return Principal{
			Actor: domain.Actor{
				ID:   id,
				Name: strings.TrimSpace(req.Header.Get("X-Actor-Name")),
				Role: strings.TrimSpace(req.Header.Get("X-Actor-Role")),
			},
			Source: "legacy_header",
		}, nil
	}
}

// newAuthMiddleware tries bearer tokens, then api keys, then legacy headers
// when allowed. The first credential present decides; a bad one is a 401.
func newAuthMiddleware(basePath string, cfg AuthConfig, keys repo.Repo) func(http.Handler) http.Handler {
	logger := logging.OrNop(cfg.Logger)
	chain := []authenticator{bearerAuth(cfg.JWTSecret), apiKeyAuth(keys)}
	if cfg.AllowLegacyActorHeader {
		chain = append(chain, legacyHeaderAuth(logger))
	}
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "openapi.json"):   true,
		path.Join(basePath, "auth/dev/login"): cfg.DevLogin,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath+"/") || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			for _, auth := range chain {
				p, err := auth(req)
				if errors.Is(err, errNoCredentials) {
					continue
				}
				if err != nil {
					logger.Debug("credentials rejected", zap.String("path", req.URL.Path), zap.Error(err))
					writeStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), principalKey{}, p)))
				return
			}
			writeStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func writeStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	json.NewEncoder(w).Encode(err)
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	if !cfg.DevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Mint a JWT for local development",
		Tags:        []string{"meta"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := domain.Actor{
			ID:   strings.TrimSpace(input.Body.ActorID),
			Name: input.Body.Name,
			Role: input.Body.Role,
		}
		org := strings.TrimSpace(input.Body.OrgID)
		if actor.ID == "" || org == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and org_id are required", nil)
		}
		token, err := SignToken(cfg.JWTSecret, actor, org, 0)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body DevLoginResponse `json:"body"`
		}{}
		out.Body.Token = token
		return out, nil
	})
}
