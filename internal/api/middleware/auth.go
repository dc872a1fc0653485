// auth.go — JWT-аутентификация и проверки прав BM Agency.
// Токены входа подписаны локальным секретом (HS256). Если задан JWKS URL
// внешнего IdP, дополнительно принимаются токены RS256 с issuer этого IdP:
// пользователь определяется по email.
// Права субъекта при каждом запросе берутся из БД (через кэш), а не из claims.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/russeltsague/BM-Agency-sub000/internal/api/errors"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/service"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyPrincipal — аутентифицированный субъект в контексте запроса.
	ContextKeyPrincipal contextKey = "principal"
)

// accessTokenParam — query-параметр с токеном (браузерный WebSocket не передаёт заголовки).
const accessTokenParam = "access_token"

// PrincipalLoader — загрузка актуального субъекта.
// Реализуется service.UserService.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, userID string) (*rbac.Principal, error)
	LoadPrincipalByEmail(ctx context.Context, email string) (*rbac.Principal, error)
}

// tokenClaims — claims, необходимые для определения субъекта.
type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// JWTAuth — middleware JWT-аутентификации.
type JWTAuth struct {
	secret    []byte
	issuer    string
	idpIssuer string
	leeway    time.Duration
	jwks      keyfunc.Keyfunc
	loader    PrincipalLoader
	logger    *slog.Logger
}

// NewJWTAuth создаёт middleware. jwksURL может быть пустым: тогда
// принимаются только локальные токены HS256. idpIssuer — ожидаемый iss
// внешних токенов.
// jwksRefreshInterval — интервал обновления ключей (BM_JWKS_REFRESH_INTERVAL).
func NewJWTAuth(
	secret string,
	issuer string,
	leeway time.Duration,
	jwksURL string,
	idpIssuer string,
	jwksRefreshInterval time.Duration,
	loader PrincipalLoader,
	logger *slog.Logger,
) (*JWTAuth, error) {
	var kf keyfunc.Keyfunc
	if jwksURL != "" {
		// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
		storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
			Client:                    &http.Client{Timeout: 10 * time.Second},
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           jwksRefreshInterval,
			RefreshErrorHandler: func(_ context.Context, err error) {
				logger.Error("Ошибка обновления JWKS",
					slog.String("error", err.Error()),
					slog.String("url", jwksURL),
				)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("создание JWKS storage: %w", err)
		}

		kf, err = keyfunc.New(keyfunc.Options{Storage: storage})
		if err != nil {
			return nil, fmt.Errorf("создание keyfunc: %w", err)
		}
	}

	return newJWTAuth(secret, issuer, idpIssuer, leeway, kf, loader, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS; kf может быть nil.
func NewJWTAuthWithKeyfunc(secret, issuer, idpIssuer string, kf keyfunc.Keyfunc, loader PrincipalLoader, logger *slog.Logger) *JWTAuth {
	return newJWTAuth(secret, issuer, idpIssuer, 0, kf, loader, logger)
}

func newJWTAuth(secret, issuer, idpIssuer string, leeway time.Duration, kf keyfunc.Keyfunc, loader PrincipalLoader, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		secret:    []byte(secret),
		issuer:    issuer,
		idpIssuer: idpIssuer,
		leeway:    leeway,
		jwks:      kf,
		loader:    loader,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware: извлекает токен, проверяет подпись,
// загружает субъекта и помещает его в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg := extractToken(r)
			if tokenString == "" {
				apierrors.Unauthorized(w, msg)
				return
			}

			claims := &tokenClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, j.keyfunc(r.Context()), j.parserOptions()...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			principal, err := j.resolve(r.Context(), token.Method.Alg(), claims)
			if err != nil {
				apierrors.FromServiceError(w, err, j.logger)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// extractToken берёт токен из заголовка Authorization или из query-параметра access_token.
func extractToken(r *http.Request) (token, message string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get(accessTokenParam); t != "" {
			return t, ""
		}
		return "", "Отсутствует заголовок Authorization"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "Неверный формат Authorization: ожидается Bearer <token>"
	}
	if strings.TrimSpace(parts[1]) == "" {
		return "", "Пустой Bearer token"
	}
	return strings.TrimSpace(parts[1]), ""
}

func (j *JWTAuth) parserOptions() []jwt.ParserOption {
	methods := []string{jwt.SigningMethodHS256.Alg()}
	if j.jwks != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	return []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	}
}

// keyfunc выбирает ключ по алгоритму: локальный секрет для HS256, JWKS для RS256.
func (j *JWTAuth) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodHS256.Alg():
			return j.secret, nil
		case jwt.SigningMethodRS256.Alg():
			if j.jwks == nil {
				return nil, fmt.Errorf("внешние токены не настроены")
			}
			return j.jwks.KeyfuncCtx(ctx)(t)
		default:
			return nil, fmt.Errorf("неподдерживаемый алгоритм %s", t.Method.Alg())
		}
	}
}

// resolve загружает субъекта. Локальный токен — по sub, внешний — по email;
// issuer проверяется в обоих случаях.
func (j *JWTAuth) resolve(ctx context.Context, alg string, claims *tokenClaims) (*rbac.Principal, error) {
	if alg == jwt.SigningMethodHS256.Alg() {
		if j.issuer != "" && claims.Issuer != j.issuer {
			return nil, unauthenticated("неверный issuer токена")
		}
		if claims.Subject == "" {
			return nil, unauthenticated("отсутствует sub в токене")
		}
		return j.loader.LoadPrincipal(ctx, claims.Subject)
	}

	if j.idpIssuer == "" || claims.Issuer != j.idpIssuer {
		return nil, unauthenticated("неверный issuer внешнего токена")
	}
	if claims.Email == "" {
		return nil, unauthenticated("отсутствует email во внешнем токене")
	}
	return j.loader.LoadPrincipalByEmail(ctx, strings.ToLower(claims.Email))
}

func unauthenticated(msg string) error {
	return fmt.Errorf("%w: %s", service.ErrUnauthenticated, msg)
}

// --- Проверки прав ---

// RequireCapability возвращает middleware, требующий возможность.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireCapability(c rbac.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}
			if !p.Can(c) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется %s", c))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyRole возвращает middleware, требующий одну из ролей.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireAnyRole(roles ...rbac.Role) func(http.Handler) http.Handler {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}
			if !p.HasAnyRole(roles...) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", strings.Join(names, " или ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// WithPrincipal помещает субъекта в контекст.
func WithPrincipal(ctx context.Context, p *rbac.Principal) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, p)
}

// PrincipalFromContext извлекает субъекта из контекста. nil — не аутентифицирован.
func PrincipalFromContext(ctx context.Context) *rbac.Principal {
	p, _ := ctx.Value(ContextKeyPrincipal).(*rbac.Principal)
	return p
}

// --- ReadinessChecker для JWKS ---

// JWKSReadinessChecker — проверка доступности JWKS внешнего IdP.
// Недоступность IdP не блокирует локальные токены, поэтому статус — degraded.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности JWKS.
func NewJWKSReadinessChecker(jwksURL string, timeout time.Duration) *JWKSReadinessChecker {
	return &JWKSReadinessChecker{
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: timeout},
	}
}

const statusDegraded = "degraded"

// CheckReady проверяет доступность JWKS endpoint.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusDegraded, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return statusDegraded, fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusDegraded, fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return statusDegraded, fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return statusDegraded, "JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
