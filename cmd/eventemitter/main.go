package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jkyberneees/process-eventemitter/internal/config"
	"github.com/jkyberneees/process-eventemitter/internal/emitter"
	"github.com/jkyberneees/process-eventemitter/internal/eventbus"
	"github.com/jkyberneees/process-eventemitter/internal/hub"
	"github.com/jkyberneees/process-eventemitter/internal/journal"
	"github.com/jkyberneees/process-eventemitter/internal/observe"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := cfg.Log.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("eventemitter failed")
	}
}

// observers are attached by the hub factory, before Spawn connects the
// emitter, so lifecycle events are logged and mirrored too.
type observers struct {
	logger  logrus.FieldLogger
	mirror  *observe.Mirror
	journal *observe.Journal
}

func (o observers) factory() hub.Factory {
	base := hub.Emitters(emitter.WithLogger(o.logger))
	return hub.FactoryFunc(func(name string) (*emitter.Emitter, error) {
		em, err := base.Create(name)
		if err != nil {
			return nil, err
		}
		if err := o.attach(em); err != nil {
			_ = em.Close(context.Background())
			return nil, err
		}
		return em, nil
	})
}

func (o observers) attach(em *emitter.Emitter) error {
	if err := observe.Logging(em, o.logger); err != nil {
		return err
	}
	if o.mirror != nil {
		if err := o.mirror.Attach(em); err != nil {
			return err
		}
	}
	if o.journal != nil {
		o.journal.Attach(em)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	obs := observers{logger: logger}
	var closers []func(context.Context) error
	if cfg.Redis.Enabled() {
		opts := &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}

		bus := eventbus.NewRedisBus(opts, logger)
		store := journal.NewRedisStore(opts, logger)
		obs.mirror = observe.NewMirror(bus, cfg.Redis.ChannelPrefix, logger)
		obs.journal = observe.NewJournal(store, cfg.Redis.JournalTTL, logger)

		closers = append(closers,
			obs.mirror.Close,
			obs.journal.Close,
			func(context.Context) error { return errors.Join(bus.Close(), store.Close()) },
		)
		logger.WithField("addr", cfg.Redis.Addr).Info("redis observers enabled")
	}

	h := hub.New(obs.factory(), logger)
	em, err := h.Spawn(ctx, "mail")
	if err != nil {
		return err
	}

	if _, err := em.On("email.send", func(data any, settle emitter.Settle, reject emitter.Reject, raw any) {
		to, ok := data.(string)
		if !ok || to == "" {
			reject("missing recipient")
			return
		}
		settle("sent to " + to)
	}); err != nil {
		return err
	}

	res, err := em.EmitToOne(ctx, "email.send", "ops@example.com", cfg.Emitter.DefaultTimeout)
	if err != nil {
		logger.WithError(err).Error("email.send failed")
	} else {
		logger.WithField("result", res).Info("email.send done")
	}

	logger.Info("running, press ctrl+c to stop")
	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = h.Stop(shutdown)
	for _, c := range closers {
		err = errors.Join(err, c(shutdown))
	}
	return err
}
