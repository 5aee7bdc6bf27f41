package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/campusloop/loyalty/internal/app"
	"github.com/campusloop/loyalty/internal/config"
)

const defaultPort = 8000

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("loyalty", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML config file")
	port := fs.Int("port", defaultPort, "port for the API server")
	migrateOnly := fs.Bool("migrate", false, "run database migrations and exit")
	superuser := fs.String("superuser", "", "create a superuser with the given utorid and exit")
	email := fs.String("email", "", "email for the new superuser")
	password := fs.String("password", "", "password for the new superuser")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}

	cfg, errEnv := config.LoadFromEnv()
	if errEnv != nil {
		return errEnv
	}
	if *configPath != "" {
		cfg.ConfigPath = *configPath
	}

	if *migrateOnly {
		return app.Migrate(ctx, cfg)
	}
	if *superuser != "" {
		return app.CreateSuperuser(ctx, cfg, *superuser, *email, *password)
	}
	return app.RunServer(ctx, cfg, *port)
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	return nil
}
