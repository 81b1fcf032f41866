package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"machineid-swarm/internal/config"
	xerrors "machineid-swarm/internal/errors"
	"machineid-swarm/internal/events"
	"machineid-swarm/internal/llm"
	"machineid-swarm/internal/llm/openai"
	"machineid-swarm/internal/storage"
	"machineid-swarm/internal/storage/mysql"
	"machineid-swarm/internal/storage/sqlite"
)

// openRepository 根据配置创建运行历史仓库。
func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	sc := cfg.Storage
	switch sc.Driver {
	case "", "none":
		return storage.Nop{}, nil
	case "memory":
		repo, err := storage.NewMemoryRepository(cfg.Runtime.DataDir)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化内存存储失败")
		}
		return repo, nil
	case "mysql":
		repo, err := mysql.Open(ctx, mysql.Config{
			DSN:             sc.DSN,
			MaxOpenConns:    sc.MaxOpenConns,
			MaxIdleConns:    sc.MaxIdleConns,
			ConnMaxLifetime: time.Duration(sc.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 MySQL 存储失败")
		}
		return repo, nil
	case "sqlite":
		path := sc.DSN
		if path == "" {
			path = filepath.Join(cfg.Runtime.DataDir, sqlite.DefaultFile)
		}
		repo, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 SQLite 存储失败")
		}
		return repo, nil
	default:
		return nil, xerrors.Wrap(xerrors.CodeInvalidConfig, storage.ErrUnsupportedDriver, sc.Driver)
	}
}

// openPublisher 根据配置的驱动列表创建事件投递器。
//
// 无法连接的驱动会被记录并跳过，事件投递不应阻止网关检查。
func openPublisher(ctx context.Context, cfg *config.Config, log *slog.Logger) (events.Publisher, error) {
	ec := cfg.Events
	publishers := make([]events.Publisher, 0, len(ec.Drivers))
	fail := func(err error) (events.Publisher, error) {
		_ = events.NewFanout(publishers...).Close()
		return nil, err
	}
	skip := func(driver string, err error) {
		err = xerrors.Wrap(xerrors.CodePublishFailure, err, "事件驱动不可用，已跳过")
		log.Warn("事件驱动不可用", slog.String("driver", driver), slog.Any("error", err))
	}
	for _, driver := range ec.Drivers {
		switch strings.ToLower(strings.TrimSpace(driver)) {
		case "", "none":
		case "log":
			publishers = append(publishers, events.NewLogPublisher(nil))
		case "memory":
			publishers = append(publishers, events.NewMemoryPublisher())
		case "redis":
			p, err := events.NewRedisPublisher(ctx, events.RedisConfig{
				Address:  ec.Redis.Address,
				Password: ec.Redis.Password,
				DB:       ec.Redis.DB,
				List:     ec.Redis.List,
			})
			if err != nil {
				skip("redis", err)
				continue
			}
			publishers = append(publishers, p)
		case "rabbitmq":
			p, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
				URL:     ec.RabbitMQ.URL,
				Queue:   ec.RabbitMQ.Queue,
				Durable: ec.RabbitMQ.Durable,
			})
			if err != nil {
				skip("rabbitmq", err)
				continue
			}
			publishers = append(publishers, p)
		default:
			return fail(xerrors.New(xerrors.CodeInvalidConfig, fmt.Sprintf("未知的事件驱动: %s", driver)))
		}
	}
	return events.NewFanout(publishers...), nil
}

// createLLMClient 创建 OpenAI 客户端。
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	client, err := openai.NewClient(openai.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout(),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMissingEnv, err, "初始化 OpenAI 客户端失败")
	}
	return client, nil
}
