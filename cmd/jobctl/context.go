package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/cuongbtq/voice2soap/internal/bootstrap"
	"github.com/cuongbtq/voice2soap/internal/config"
	"github.com/cuongbtq/voice2soap/internal/orchestrator"
	"github.com/cuongbtq/voice2soap/internal/storage"
	"github.com/cuongbtq/voice2soap/shared/logger"
)

const defaultConfigPath = "configs/worker-service/config.yaml"

type commandContext struct {
	configFlag *string
	levelFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag, levelFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		levelFlag:  levelFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	if path := os.Getenv("WORKER_SERVICE_CONFIG_PATH"); path != "" {
		return path
	}
	return defaultConfigPath
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) log() *slog.Logger {
	c.loggerOnce.Do(func() {
		level := "warn"
		if c.levelFlag != nil && *c.levelFlag != "" {
			level = *c.levelFlag
		}
		l, err := logger.New(&logger.Config{Level: level, Format: "console", Output: "stderr"})
		if err != nil {
			c.logger = logger.NewDefault().Logger
			return
		}
		c.logger = l.Logger
	})
	return c.logger
}

// withStore opens only the job database. Inspection commands work without
// the broker and object storage.
func (c *commandContext) withStore(ctx context.Context, migrate bool, fn func(*storage.SQLStore) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	db, err := bootstrap.InitDatabase(&cfg.Database, c.log())
	if err != nil {
		return fmt.Errorf("open job database: %w", err)
	}
	defer db.Close()

	if migrate {
		store, err := bootstrap.InitJobStore(ctx, db, c.log())
		if err != nil {
			return err
		}
		return fn(store)
	}
	return fn(storage.NewSQLStore(db.GetDB(), c.log()))
}

// withService connects every collaborator; used by commands that drive the saga
func (c *commandContext) withService(ctx context.Context, fn func(*orchestrator.Service) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	clients, err := bootstrap.Connect(ctx, cfg, c.log())
	if err != nil {
		return err
	}
	defer clients.Close()

	service, err := bootstrap.NewService(cfg, clients, c.log())
	if err != nil {
		return err
	}
	return fn(service)
}
