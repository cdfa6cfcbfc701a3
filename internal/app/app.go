// Package app assembles the harvester from configuration: database, OAI
// client factory, resolver (optionally Redis cached), outcome publisher,
// HarvestService and Runner. Both the CLI commands and the admin API are
// built on an App.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-filemeta-harvester/internal/config"
	"github.com/tbourn/go-filemeta-harvester/internal/events"
	httpapi "github.com/tbourn/go-filemeta-harvester/internal/http"
	"github.com/tbourn/go-filemeta-harvester/internal/repo"
	"github.com/tbourn/go-filemeta-harvester/internal/resolver"
	"github.com/tbourn/go-filemeta-harvester/internal/services"
)

// App holds the wired components.
type App struct {
	Config    config.Config
	Endpoints *config.EndpointsFile
	DB        *gorm.DB
	Service   *services.HarvestService
	Runner    *services.Runner
	Records   *services.RecordService

	closers []func() error
}

// Deps are the outbound collaborators. Nil fields are built from config.
type Deps struct {
	DB        *gorm.DB
	Resolver  resolver.Resolver
	Publisher events.Publisher
	Harvester services.HarvesterFactory
}

// New loads the endpoints file, opens the database and builds every
// collaborator from cfg. ctx bounds asynchronous runs started by the Runner.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	eps, err := config.LoadEndpoints(cfg.EndpointsFile)
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, eps, Deps{})
}

// Build wires an App from already loaded endpoints and optional deps.
func Build(ctx context.Context, cfg config.Config, eps *config.EndpointsFile, deps Deps) (*App, error) {
	a := &App{Config: cfg, Endpoints: eps}

	db := deps.DB
	if db == nil {
		var err error
		db, err = repo.Open(cfg.DB, cfg.OTEL.Enabled)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}
	a.DB = db

	res := deps.Resolver
	if res == nil {
		res = a.buildResolver(ctx)
	}

	pub := deps.Publisher
	if pub == nil {
		pub = a.buildPublisher()
	}

	factory := deps.Harvester
	if factory == nil {
		factory = harvesterFactory(cfg.OAI)
	}

	a.Service = services.NewHarvestService(db, harvestRepoShim{}, fileRepoShim{}, factory, res, pub, cfg.EffectiveBatchSize(eps))
	a.Runner = services.NewRunner(ctx, a.Service, eps.Endpoints, cfg.RunParallelism)
	a.Records = services.NewRecordService(db, recordRepoShim{})
	return a, nil
}

func (a *App) buildResolver(ctx context.Context) resolver.Resolver {
	rc := a.Config.Resolver
	base := resolver.New(rc.URL, resolver.Options{
		Timeout:   rc.Timeout,
		RPS:       rc.RPS,
		UserAgent: a.Config.OAI.UserAgent,
	})
	if rc.RedisAddr == "" {
		return base
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.RedisAddr,
		Password: rc.RedisPassword,
		DB:       rc.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", rc.RedisAddr).Msg("redis unreachable; resolver cache will degrade to direct calls")
	} else {
		log.Info().Str("addr", rc.RedisAddr).Dur("ttl", rc.CacheTTL).Msg("resolver cache enabled")
	}
	a.closers = append(a.closers, rdb.Close)
	return resolver.NewCachedResolver(base, resolver.NewRedisCache(rdb), rc.CacheTTL)
}

func (a *App) buildPublisher() events.Publisher {
	kc := a.Config.Kafka
	if len(kc.Brokers) == 0 {
		return events.Nop{}
	}
	p := events.NewKafkaPublisher(kc.Brokers, kc.Topic)
	a.closers = append(a.closers, p.Close)
	log.Info().Strs("brokers", kc.Brokers).Str("topic", kc.Topic).Msg("outcome events enabled")
	return p
}

// Router returns a gin engine serving the admin API.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:      a.DB,
		Runs:    a.Runner,
		Harvest: a.Service,
		Records: a.Records,
	}, a.Config)
	return r
}

// Close waits for background runs and releases owned connections in
// reverse order of creation.
func (a *App) Close() error {
	a.Runner.Wait()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
