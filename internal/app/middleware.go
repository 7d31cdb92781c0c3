package app

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"pdf2html/internal/handlers"
	u "pdf2html/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/rs/xid"
)

// rateLimitStore backs every limiter; RegisterMiddleware picks Redis or memory.
var rateLimitStore fiber.Storage

// limiterSet hands out one limiter per distinct token limit so tokens that
// share a limit share the handler.
type limiterSet struct {
	mu      sync.Mutex
	byLimit map[int]fiber.Handler
}

var tokenLimiters limiterSet

func (s *limiterSet) forLimit(limit int) fiber.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.byLimit[limit]; ok {
		return h
	}
	if s.byLimit == nil {
		s.byLimit = make(map[int]fiber.Handler)
	}
	h := newTokenLimiter(limit, u.GetConfig().RateLimiter.Interval)
	s.byLimit[limit] = h
	return h
}

// reset drops cached limiters after the interval or storage changes.
func (s *limiterSet) reset() {
	s.mu.Lock()
	s.byLimit = nil
	s.mu.Unlock()
}

func tooManyRequests(c *fiber.Ctx) error {
	return handlers.WriteError(c, handlers.NewAPIError(fiber.StatusTooManyRequests, "TooManyRequests", "Too Many Requests"))
}

func apiKey(c *fiber.Ctx) string {
	token, _ := c.Locals("api_key").(string)
	return token
}

func newTokenLimiter(limit int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        window,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           rateLimitStore,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "token:" + apiKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			u.Warn("Token over its conversion budget", "token", apiKey(c), "limit", limit, "path", c.Path())
			return tooManyRequests(c)
		},
	})
}

// rateLimitMiddleware applies per-token limits to authenticated requests.
func rateLimitMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := apiKey(c)
		if token == "" {
			return c.Next()
		}
		if limit := u.GetRateLimit(token); limit > 0 {
			return tokenLimiters.forLimit(limit)(c)
		}
		return c.Next()
	}
}

func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

// userRateLimitMiddleware limits anonymous requests by client IP and user agent.
func userRateLimitMiddleware(cfg u.Config) fiber.Handler {
	if cfg.RateLimiter.UserLimit <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               cfg.RateLimiter.UserLimit,
		Expiration:        cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           rateLimitStore,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "user:" + clientKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			u.Warn("Rate limit exceeded", "user", clientKey(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	return func(c *fiber.Ctx) error {
		// Authenticated requests are governed by their token limit only.
		if apiKey(c) != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

func newRateLimitStore(cfg u.Config) (store fiber.Storage) {
	if cfg.Cache.RedisHost == "" {
		return memoryStorage.New()
	}
	defer func() {
		if r := recover(); r != nil {
			u.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
			store = memoryStorage.New()
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.Cache.RedisHost},
		Database: cfg.Cache.RateLimitDB,
	})
	u.Info("Using Redis for rate limiting", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.RateLimitDB)
	return store
}

// RegisterMiddleware attaches global middleware to the app.
func RegisterMiddleware(app *fiber.App, cfg u.Config) {
	rateLimitStore = newRateLimitStore(cfg)
	tokenLimiters.reset()

	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/health",
		ReadinessEndpoint: "/ops/ready",
	}))

	app.Use(keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: "api_key",
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if !u.TokensReady() {
				return false, u.ErrTokenStoreNotReady
			}
			if !u.ValidateToken(key) {
				return false, u.ErrInvalidAPIKey
			}
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Get("X-API-Key") == ""
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth may call ErrorHandler with a nil error
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			status, kind := fiber.StatusUnauthorized, handlers.ErrorKind("Unauthorized")
			if err == u.ErrTokenStoreNotReady {
				status, kind = fiber.StatusServiceUnavailable, "ServiceUnavailable"
			}
			return handlers.WriteError(c, handlers.NewAPIError(status, kind, err.Error()))
		},
	}))

	app.Use(rateLimitMiddleware())

	if cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0 {
		app.Use(userRateLimitMiddleware(cfg))
	}

	app.Use(func(c *fiber.Ctx) error {
		u.Debug("Incoming request",
			"method", c.Method(),
			"path", c.Path(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
		)
		return c.Next()
	})
}
