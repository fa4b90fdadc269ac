package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"raffler/application"
	"raffler/config"
	"raffler/database"
	"raffler/domain/entities"
	"raffler/domain/events"
	"raffler/httpapi"
	"raffler/infrastructure"
	"raffler/infrastructure/discord"
	"raffler/infrastructure/observability"
	"raffler/infrastructure/vrf"
	"raffler/repository"
	"raffler/repository/memory"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

const serviceName = "raffler"

// Run initializes and starts the raffle service
func Run(ctx context.Context, cfg *config.Config) error {
	log.WithFields(log.Fields{
		"network": cfg.Network,
		"chainID": cfg.ChainID,
		"storage": cfg.Storage,
	}).Info("Starting raffler...")

	eventBus := events.NewBus()
	publishers := events.MultiPublisher{eventBus}
	dependencies := make(map[string]func() bool)

	if cfg.NATSServers != "" {
		natsClient := infrastructure.NewNATSClient(cfg.NATSServers, serviceName)
		if err := natsClient.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		natsPublisher := infrastructure.NewNATSEventPublisher(natsClient, infrastructure.NewEventSubjectMapper(), serviceName)
		if err := natsPublisher.EnsureRaffleEventStream(natsClient); err != nil {
			return fmt.Errorf("failed to ensure raffle event stream: %w", err)
		}
		publishers = append(publishers, natsPublisher)
		dependencies["nats"] = natsClient.IsConnected
	}

	uowFactory, closeStorage, err := openStorage(ctx, cfg, publishers)
	if err != nil {
		return err
	}
	defer closeStorage()

	coordinator := vrf.NewCoordinator(vrf.Config{
		BlockTime:           cfg.VRFBlockTime,
		MaxAttempts:         cfg.VRFMaxAttempts,
		UnknownRequestGrace: cfg.VRFUnknownRequestGrace,
	})
	app := application.NewRaffleApp(uowFactory, coordinator, nil)
	coordinator.SetConsumer(app)

	raffle, err := app.EnsureRaffle(ctx, cfg.Raffle.Params())
	if err != nil {
		return fmt.Errorf("failed to ensure raffle: %w", err)
	}
	log.WithFields(log.Fields{
		"raffleID":    raffle.ID,
		"name":        raffle.Name,
		"entranceFee": entities.FormatWei(raffle.EntranceFee),
		"interval":    raffle.Interval().String(),
		"state":       raffle.State.String(),
	}).Info("Raffle ready")

	if _, err := app.AdoptPendingRequests(ctx, coordinator); err != nil {
		return fmt.Errorf("failed to adopt pending requests: %w", err)
	}

	observability.SubscribeEvents(eventBus)
	observability.ObservePot(raffle.ID, raffle.RoundNumber, raffle.PlayerCount, raffle.Pot)

	if cfg.DiscordEnabled() {
		announcer, err := discord.NewAnnouncer(cfg.DiscordToken, cfg.DiscordChannelID)
		if err != nil {
			return fmt.Errorf("failed to initialize discord announcer: %w", err)
		}
		announcer.Subscribe(eventBus)
	}

	stopFulfiller := coordinator.Start(ctx)
	defer stopFulfiller()

	worker := application.NewUpkeepWorker(app, cfg.UpkeepSchedule, cfg.StuckWarningAfter, nil)
	stopWorker, err := worker.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start upkeep worker: %w", err)
	}
	defer stopWorker()

	server := httpapi.NewServer(app, httpapi.Config{
		Addr:              cfg.HTTPAddr,
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		Dependencies:      dependencies,
	})

	log.WithField("environment", cfg.Environment).Info("Raffler is running")
	if err := server.Run(ctx); err != nil {
		return err
	}

	log.Info("Shutting down raffler...")
	return nil
}

// Fund credits a holding account. Admin operations do not fan out events.
func Fund(ctx context.Context, cfg *config.Config, address string, amount string) error {
	if cfg.Storage != "postgres" {
		return fmt.Errorf("fund requires postgres storage, got %q", cfg.Storage)
	}
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address %q", address)
	}
	wei, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount %q, expected whole wei", amount)
	}

	uowFactory, closeStorage, err := openStorage(ctx, cfg, infrastructure.NewNoopEventPublisher())
	if err != nil {
		return err
	}
	defer closeStorage()

	app := application.NewRaffleApp(uowFactory, nil, nil)
	account, err := app.Fund(ctx, common.HexToAddress(address), wei)
	if err != nil {
		return fmt.Errorf("failed to fund account: %w", err)
	}

	log.WithFields(log.Fields{
		"address": account.Address.Hex(),
		"balance": entities.FormatWei(account.Balance),
	}).Info("Account funded")
	return nil
}

// Watch logs every raffle event published to NATS until ctx is cancelled
func Watch(ctx context.Context, cfg *config.Config) error {
	if cfg.NATSServers == "" {
		return fmt.Errorf("NATS_SERVERS is required to watch events")
	}

	natsClient := infrastructure.NewNATSClient(cfg.NATSServers, serviceName+"-watch")
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsClient.Close()

	mapper := infrastructure.NewEventSubjectMapper()
	if err := natsClient.EnsureStream(infrastructure.RaffleEventStream, mapper.GetAllSubjects()); err != nil {
		return fmt.Errorf("failed to ensure raffle event stream: %w", err)
	}

	for _, subject := range mapper.GetAllSubjects() {
		if err := natsClient.Subscribe(subject, func(subject string, data []byte) error {
			var envelope infrastructure.EventEnvelope
			if err := json.Unmarshal(data, &envelope); err != nil {
				return fmt.Errorf("failed to decode event envelope: %w", err)
			}
			log.WithFields(log.Fields{
				"subject":   subject,
				"eventType": mapper.MapSubjectToEventType(subject),
				"eventId":   envelope.EventID,
				"timestamp": envelope.Timestamp.Format(time.RFC3339),
				"payload":   string(envelope.Payload),
			}).Info("Raffle event")
			return nil
		}); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}

// openStorage returns the unit of work factory for the configured storage
func openStorage(ctx context.Context, cfg *config.Config, publisher events.Publisher) (application.UnitOfWorkFactory, func(), error) {
	if cfg.Storage == "memory" {
		log.Warn("Using in-memory storage, state is lost on exit")
		return memory.New(publisher), func() {}, nil
	}

	databaseURL := cfg.GetDatabaseURL()
	if err := database.MigrateUp(databaseURL); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.NewConnection(ctx, databaseURL, database.PoolOptions{MaxConns: cfg.DatabaseMaxConns})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return repository.NewUnitOfWorkFactory(db, publisher), db.Close, nil
}
