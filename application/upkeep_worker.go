package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"raffler/domain/entities"
	"raffler/domain/interfaces"
	"raffler/infrastructure/observability"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// UpkeepWorker is the keeper: it closes every round whose upkeep predicate
// holds and warns about rounds stuck waiting on randomness
type UpkeepWorker struct {
	app        *RaffleApp
	schedule   string
	stuckAfter time.Duration
	clock      interfaces.Clock
}

// NewUpkeepWorker creates a new upkeep worker. schedule is a cron spec such as "@every 10s".
func NewUpkeepWorker(app *RaffleApp, schedule string, stuckAfter time.Duration, clock interfaces.Clock) *UpkeepWorker {
	if clock == nil {
		clock = time.Now
	}
	return &UpkeepWorker{
		app:        app,
		schedule:   schedule,
		stuckAfter: stuckAfter,
		clock:      clock,
	}
}

// Start schedules the keeper and returns a function that stops it
func (w *UpkeepWorker) Start(ctx context.Context) (func(), error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(log.StandardLogger())),
		cron.SkipIfStillRunning(cron.PrintfLogger(log.StandardLogger())),
	))

	if _, err := c.AddFunc(w.schedule, func() {
		if err := w.RunOnce(ctx); err != nil {
			log.WithError(err).Error("Upkeep run failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule upkeep %q: %w", w.schedule, err)
	}

	c.Start()
	log.WithField("schedule", w.schedule).Info("Upkeep worker started")

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		<-c.Stop().Done()
		log.Info("Upkeep worker stopped")
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopped) })
	}, nil
}

// RunOnce checks every raffle and performs upkeep where it is needed
func (w *UpkeepWorker) RunOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return nil
	}

	raffles, err := w.app.ListRaffles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list raffles: %w", err)
	}

	now := w.clock()
	var performed, stuck int
	for _, raffle := range raffles {
		if raffle.State == entities.RaffleStateCalculating {
			if waited := raffle.StuckFor(now); w.stuckAfter > 0 && waited >= w.stuckAfter {
				stuck++
				log.WithFields(log.Fields{
					"raffleID":  raffle.ID,
					"requestID": *raffle.PendingRequestID,
					"waiting":   waited.Round(time.Second).String(),
				}).Warn("Raffle stuck waiting for randomness")
			}
			continue
		}

		check, err := w.app.CheckUpkeep(ctx, raffle.ID)
		if err != nil {
			log.WithFields(log.Fields{
				"raffleID": raffle.ID,
				"error":    err,
			}).Error("Failed to check upkeep")
			continue
		}
		if !check.UpkeepNeeded {
			continue
		}

		requestID, err := w.app.PerformUpkeep(ctx, raffle.ID)
		if err != nil {
			// Another caller may have closed the round between check and perform
			var notNeeded *entities.UpkeepNotNeededError
			if errors.As(err, &notNeeded) {
				log.WithField("raffleID", raffle.ID).Debug("Upkeep no longer needed")
				continue
			}
			log.WithFields(log.Fields{
				"raffleID": raffle.ID,
				"error":    err,
			}).Error("Failed to perform upkeep")
			continue
		}

		performed++
		log.WithFields(log.Fields{
			"raffleID":  raffle.ID,
			"requestID": requestID,
		}).Debug("Keeper performed upkeep")
	}

	observability.SetStuckRaffles(stuck)

	if performed > 0 || stuck > 0 {
		log.WithFields(log.Fields{
			"raffles":   len(raffles),
			"performed": performed,
			"stuck":     stuck,
		}).Info("Upkeep run completed")
	}
	return nil
}
