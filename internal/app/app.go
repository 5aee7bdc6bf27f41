package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/config"
	"github.com/campusloop/loyalty/internal/db"
	"github.com/campusloop/loyalty/internal/http/api"
	"github.com/campusloop/loyalty/internal/models"
	"github.com/campusloop/loyalty/internal/ratelimit"
	"github.com/campusloop/loyalty/internal/security"
	internalsettings "github.com/campusloop/loyalty/internal/settings"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	conn, errOpen := openDatabase(cfg)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the loyalty API server.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	conn, errOpen := openDatabase(cfg)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errBind := internalsettings.Bind(conn); errBind != nil {
		return fmt.Errorf("app: load settings: %w", errBind)
	}

	jwtCfg, _ := config.LoadJWTConfig(configPath)
	if strings.TrimSpace(jwtCfg.Secret) == "" {
		return fmt.Errorf("app: jwt secret is required (set jwt.secret or %s)", config.EnvJWTSecret)
	}

	// Site settings drive the limiter; the YAML redis section supplies
	// the backend when the settings table has none configured.
	redisCfg, _ := config.LoadRedisConfig(configPath)
	limiter := ratelimit.NewManager(func() ratelimit.SettingsConfig {
		cfg := ratelimit.LoadSettingsConfig()
		if !cfg.RedisEnabled && redisCfg.Addr != "" {
			cfg.RedisEnabled = true
			cfg.RedisAddr = redisCfg.Addr
			cfg.RedisPassword = redisCfg.Password
			cfg.RedisDB = redisCfg.DB
			cfg.RedisPrefix = redisCfg.Prefix
		}
		return cfg
	}, nil, nil)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "site": internalsettings.SiteName()})
	})
	api.RegisterRoutes(r, conn, jwtCfg, limiter)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("app: shutdown: %w", errShutdown)
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", errServe)
	}
}

// CreateSuperuser bootstraps the first privileged account.
func CreateSuperuser(ctx context.Context, cfg config.AppConfig, utorid, email, password string) error {
	utorid = strings.TrimSpace(utorid)
	email = strings.TrimSpace(email)
	if utorid == "" || email == "" {
		return fmt.Errorf("app: utorid and email are required")
	}
	if errPolicy := security.ValidatePasswordPolicy(password); errPolicy != nil {
		return errPolicy
	}

	conn, errOpen := openDatabase(cfg)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return errHash
	}

	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if errCount := tx.Model(&models.User{}).
			Where("utorid = ? OR email = ?", utorid, email).Count(&count).Error; errCount != nil {
			return fmt.Errorf("app: query users: %w", errCount)
		}
		if count > 0 {
			return fmt.Errorf("app: utorid or email already registered")
		}
		now := time.Now().UTC()
		user := models.User{
			Utorid:    utorid,
			Name:      utorid,
			Email:     email,
			Password:  hash,
			Role:      models.RoleSuperuser,
			Verified:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if errCreate := tx.Create(&user).Error; errCreate != nil {
			return fmt.Errorf("app: create superuser: %w", errCreate)
		}
		log.Infof("superuser %s created", utorid)
		return nil
	})
}

func openDatabase(cfg config.AppConfig) (*gorm.DB, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return nil, errDSN
	}
	return db.Open(dsn)
}

// requestLogger logs one line per request with logrus.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("request")
	}
}
