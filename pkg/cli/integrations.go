package cli

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hubcap/pkg/audit"
	"github.com/platinummonkey/hubcap/pkg/config"
	"github.com/platinummonkey/hubcap/pkg/repository"
	"github.com/platinummonkey/hubcap/pkg/storage"
)

// integrations are the optional services configured next to the repositories.
type integrations struct {
	history   *audit.Store
	publisher *storage.RedisPublisher
}

func openIntegrations(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*integrations, error) {
	in := &integrations{}
	if cfg.History.Driver != "" {
		store, err := audit.Open(ctx, cfg.History.Driver, cfg.History.DSN, log)
		if err != nil {
			return nil, err
		}
		in.history = store
	}
	if cfg.Redis.URL != "" {
		publisher, err := openPublisher(ctx, cfg, log)
		if err != nil {
			return nil, errors.Join(err, in.Close())
		}
		in.publisher = publisher
	}
	return in, nil
}

func openPublisher(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*storage.RedisPublisher, error) {
	return storage.NewRedisPublisher(ctx, storage.RedisConfig{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
		TTL:      cfg.Redis.TTL,
	}, log)
}

// observers returns the integrations that follow inspections.
func (in *integrations) observers() []repository.Observer {
	var obs []repository.Observer
	if in.history != nil {
		obs = append(obs, in.history)
	}
	if in.publisher != nil {
		obs = append(obs, in.publisher)
	}
	return obs
}

func (in *integrations) Close() error {
	var errs []error
	if in.history != nil {
		errs = append(errs, in.history.Close())
	}
	if in.publisher != nil {
		errs = append(errs, in.publisher.Close())
	}
	return errors.Join(errs...)
}
