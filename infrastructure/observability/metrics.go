package observability

import (
	"context"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"raffler/domain/events"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels for upkeep and fulfillment counters
const (
	ResultPerformed   = "performed"
	ResultNotNeeded   = "not_needed"
	ResultFulfilled   = "fulfilled"
	ResultPayoutFail  = "transfer_failed"
	ResultNonexistent = "nonexistent"
	ResultError       = "error"
)

var (
	// Registry holds the raffler Prometheus collectors
	Registry = prometheus.NewRegistry()

	entriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffler",
			Name:      "entries_total",
			Help:      "Total number of accepted raffle entries.",
		},
		[]string{"raffle"},
	)

	upkeepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffler",
			Name:      "upkeeps_total",
			Help:      "Total number of performUpkeep attempts by result.",
		},
		[]string{"result"},
	)

	fulfillmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffler",
			Name:      "fulfillments_total",
			Help:      "Total number of randomness fulfillments by result.",
		},
		[]string{"result"},
	)

	potWei = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "raffler",
			Name:      "pot_wei",
			Help:      "Wei held in the current round of each raffle.",
		},
		[]string{"raffle"},
	)

	stuckRaffles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffler",
			Name:      "stuck_raffles",
			Help:      "Raffles waiting on randomness longer than the warning threshold.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffler",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raffler",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		entriesTotal,
		upkeepsTotal,
		fulfillmentsTotal,
		potWei,
		stuckRaffles,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registered metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordUpkeep counts a performUpkeep attempt
func RecordUpkeep(result string) {
	upkeepsTotal.WithLabelValues(result).Inc()
}

// RecordFulfillment counts a randomness delivery
func RecordFulfillment(result string) {
	fulfillmentsTotal.WithLabelValues(result).Inc()
}

// SetStuckRaffles sets the number of raffles stuck in CALCULATING
func SetStuckRaffles(n int) {
	stuckRaffles.Set(float64(n))
}

// potVersion orders pot observations of one raffle. Entries grow the player
// count within a round and a payout starts the next round at zero players.
type potVersion struct {
	round   int64
	players int64
}

func (v potVersion) before(o potVersion) bool {
	return v.round < o.round || (v.round == o.round && v.players < o.players)
}

var pots = struct {
	mu     sync.Mutex
	latest map[int64]potVersion
}{latest: make(map[int64]potVersion)}

// ObservePot records the pot of a raffle after the given round and player
// count. Observations older than one already recorded are ignored, so event
// handlers running out of order cannot move the gauge backwards.
func ObservePot(raffleID, round, players int64, pot *big.Int) bool {
	version := potVersion{round: round, players: players}

	pots.mu.Lock()
	defer pots.mu.Unlock()

	if latest, ok := pots.latest[raffleID]; ok && version.before(latest) {
		return false
	}
	pots.latest[raffleID] = version

	value := 0.0
	if pot != nil {
		value, _ = new(big.Float).SetInt(pot).Float64()
	}
	potWei.WithLabelValues(strconv.FormatInt(raffleID, 10)).Set(value)
	return true
}

// SubscribeEvents keeps entry and pot metrics current from committed raffle
// events. Handlers run concurrently, so pot updates go through ObservePot.
func SubscribeEvents(bus *events.Bus) {
	bus.Subscribe(events.EventTypeRaffleEnter, onRaffleEnter)
	bus.Subscribe(events.EventTypeWinnerPicked, onWinnerPicked)
}

func onRaffleEnter(_ context.Context, event events.Event) {
	e, ok := event.(events.RaffleEnterEvent)
	if !ok {
		return
	}
	entriesTotal.WithLabelValues(strconv.FormatInt(e.RaffleID, 10)).Inc()
	ObservePot(e.RaffleID, e.RoundNumber, e.PlayerCount, e.Pot)
}

func onWinnerPicked(_ context.Context, event events.Event) {
	if e, ok := event.(events.WinnerPickedEvent); ok {
		ObservePot(e.RaffleID, e.RoundNumber+1, 0, nil)
	}
}

// InstrumentHandler records request counts and latency per chi route pattern
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
