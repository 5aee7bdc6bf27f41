package settings

// DB config keys and defaults for settings.
const (
	// SiteNameKey is the DB config key for the program's display name.
	SiteNameKey = "SITE_NAME"
	// DefaultSiteName is the fallback program display name.
	DefaultSiteName = "CampusLoop Rewards"
	// ResetTokenTTLSecondsKey controls the password reset token lifetime.
	ResetTokenTTLSecondsKey = "RESET_TOKEN_TTL_SECONDS"
	// DefaultResetTokenTTLSeconds is one hour.
	DefaultResetTokenTTLSeconds = 3600
	// RateLimitKey controls the default rate limit per second.
	RateLimitKey = "RATE_LIMIT"
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"
	// DefaultRateLimit is the fallback rate limit (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "loyalty:rl"
)
