// Package scheduler runs the peilbeheer service: it refreshes prices and
// weather, optimises the pump schedule of one gemaal, applies the schedule
// over Modbus and serves the status API.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/devskill-org/peilbeheer/entsoe"
	"github.com/devskill-org/peilbeheer/gemaal"
	"github.com/devskill-org/peilbeheer/meteo"
	"github.com/devskill-org/peilbeheer/mpc"
	"github.com/devskill-org/peilbeheer/network"
)

// PeriodicTask represents a task that runs periodically with an optional initial delay
type PeriodicTask struct {
	name         string
	initialDelay time.Duration
	interval     time.Duration
	runFunc      func()
}

// run executes the periodic task in a loop, respecting the initial delay and context cancellation
func (pt *PeriodicTask) run(ctx context.Context, stopChan <-chan struct{}, logger *log.Logger) {
	if pt.initialDelay > 0 {
		logger.Printf("[%s] Waiting for initial delay: %v", pt.name, pt.initialDelay)
		select {
		case <-time.After(pt.initialDelay):
			pt.runFunc()
		case <-ctx.Done():
			logger.Printf("[%s] Stopped during initial delay due to context cancellation", pt.name)
			return
		case <-stopChan:
			logger.Printf("[%s] Stopped during initial delay due to stop signal", pt.name)
			return
		}
	} else {
		pt.runFunc()
	}

	ticker := time.NewTicker(pt.interval)
	defer ticker.Stop()

	logger.Printf("[%s] Started with interval: %v", pt.name, pt.interval)

	for {
		select {
		case <-ticker.C:
			pt.runFunc()
		case <-ctx.Done():
			logger.Printf("[%s] Stopped due to context cancellation", pt.name)
			return
		case <-stopChan:
			logger.Printf("[%s] Stopped due to stop signal", pt.name)
			return
		}
	}
}

// gemaalController is the part of the gemaal client the scheduler uses.
type gemaalController interface {
	ReadStatus() (*gemaal.Status, error)
	SetRemoteControl(enable bool) error
	WriteSetpoint(fraction float64) error
	Close() error
}

// PeilScheduler keeps the water level of one area within its band at the
// lowest energy cost.
type PeilScheduler struct {
	config *Config

	// State
	priceDocument    *entsoe.Document
	weatherCache     WeatherForecastCache
	schedule         *mpc.PumpSchedule
	lastExecuted     *mpc.ScheduleEntry
	lastOptimization time.Time
	lastSimulation   *network.Result
	isRunning        bool
	stopChan         chan struct{}
	mu               sync.RWMutex

	webServer *WebServer
	metrics   *Metrics
	db        *sql.DB
	logger    *log.Logger

	// Test hooks for dependency injection
	dialGemaal    func(cfg *Config) (gemaalController, error)
	fetchPrices   func(ctx context.Context, cfg *Config) (*entsoe.Document, error)
	fetchForecast func(ctx context.Context, cfg *Config) (*meteo.METJSONForecast, error)
	now           func() time.Time
}

// NewPeilScheduler creates a new scheduler instance
func NewPeilScheduler(config *Config, logger *log.Logger) *PeilScheduler {
	if logger == nil {
		logger = log.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := NewMetrics(reg)
	if err != nil {
		logger.Printf("Failed to register metrics: %v", err)
	}

	return &PeilScheduler{
		config:   config,
		stopChan: make(chan struct{}),
		logger:   logger,
		metrics:  metrics,
		weatherCache: WeatherForecastCache{
			cacheDuration: 2 * time.Hour,
		},
		dialGemaal:    dialGemaal,
		fetchPrices:   downloadPrices,
		fetchForecast: downloadForecast,
		now:           time.Now,
	}
}

// NewPeilSchedulerWithWebServer creates a scheduler that also serves the
// status API on config.HTTPPort.
func NewPeilSchedulerWithWebServer(config *Config, logger *log.Logger) *PeilScheduler {
	s := NewPeilScheduler(config, logger)
	s.webServer = NewWebServer(s, config.HTTPPort)
	return s
}

func dialGemaal(cfg *Config) (gemaalController, error) {
	return gemaal.NewTCPClient(cfg.GemaalModbusAddress, byte(cfg.GemaalSlaveID))
}

// SetConfig replaces the configuration
func (s *PeilScheduler) SetConfig(config *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config
}

// GetConfig returns the current configuration
func (s *PeilScheduler) GetConfig() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Metrics returns the Prometheus collectors of the scheduler.
func (s *PeilScheduler) Metrics() *Metrics {
	return s.metrics
}

// getInitialDelay returns the time until the next multiple of interval past
// the hour, so that tasks line up with the hourly schedule.
func (s *PeilScheduler) getInitialDelay(now time.Time, interval time.Duration) time.Duration {
	top := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	delay := now.Sub(top)
	for delay > 0 {
		delay -= interval
	}
	return -delay
}

// Start runs the periodic tasks until ctx is cancelled or Stop is called.
// With serverOnly it starts the web server and returns.
func (s *PeilScheduler) Start(ctx context.Context, serverOnly bool) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	config := s.GetConfig()
	if config.DryRun {
		s.logger.Printf("DRY-RUN MODE ENABLED: setpoints and schedules will not be written")
	}

	if s.webServer != nil {
		if err := s.webServer.Start(); err != nil {
			s.logger.Printf("Failed to start web server: %v", err)
			if serverOnly {
				return err
			}
		} else {
			s.logger.Printf("Web server started on port %d", s.webServer.port)
		}
		if serverOnly {
			return nil
		}
	}

	if config.PostgresConnString != "" {
		if err := s.openDatabase(ctx, config.PostgresConnString); err != nil {
			s.logger.Printf("Database unavailable, schedules will not be persisted: %v", err)
		} else if schedule, err := s.loadLatestSchedule(ctx); err != nil {
			s.logger.Printf("Failed to load stored schedule: %v", err)
		} else if schedule != nil {
			s.mu.Lock()
			s.schedule = schedule
			s.mu.Unlock()
		}
	}

	samples := &GemaalSamples{}
	now := s.now()
	optimizeDelay := s.getInitialDelay(now, config.OptimizeInterval) + time.Second
	executionDelay := s.getInitialDelay(now, config.ExecutionInterval) + 2*time.Second
	integrationDelay := s.getInitialDelay(now, config.IntegrationPeriod)
	if s.GetSchedule() == nil {
		// Give the price and weather tasks a head start, then optimise.
		optimizeDelay = 5 * time.Second
	}

	tasks := []PeriodicTask{
		{
			name:     "PriceUpdate",
			interval: config.PriceUpdateInterval,
			runFunc: func() {
				s.runPriceUpdate(ctx) //nolint:errcheck
			},
		},
		{
			name:     "WeatherUpdate",
			interval: config.WeatherUpdateInterval,
			runFunc: func() {
				s.runWeatherUpdate(ctx) //nolint:errcheck
			},
		},
		{
			name:         "Optimize",
			initialDelay: optimizeDelay,
			interval:     config.OptimizeInterval,
			runFunc: func() {
				s.RunOptimize(ctx) //nolint:errcheck
			},
		},
		{
			name:         "ScheduleExecution",
			initialDelay: executionDelay,
			interval:     config.ExecutionInterval,
			runFunc: func() {
				s.runScheduleExecution() //nolint:errcheck
			},
		},
	}
	if config.GemaalModbusAddress != "" {
		tasks = append(tasks,
			PeriodicTask{
				name:     "GemaalPoll",
				interval: config.GemaalPollInterval,
				runFunc: func() {
					s.runGemaalPoll(samples) //nolint:errcheck
				},
			},
			PeriodicTask{
				name:         "DataIntegration",
				initialDelay: integrationDelay,
				interval:     config.IntegrationPeriod,
				runFunc: func() {
					s.runDataIntegration(ctx, samples, config.GemaalPollInterval) //nolint:errcheck
				},
			},
		)
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.run(ctx, s.stopChan, s.logger)
		}()
	}
	wg.Wait()

	s.logger.Printf("All periodic tasks stopped")
	s.stop()
	return ctx.Err()
}

// Stop gracefully stops the scheduler
func (s *PeilScheduler) Stop() {
	s.stop()
}

func (s *PeilScheduler) stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false

	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	db := s.db
	s.db = nil
	s.mu.Unlock()

	// Handlers take the read lock, so the server is shut down outside it.
	if s.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.webServer.Stop(ctx); err != nil {
			s.logger.Printf("Error stopping web server: %v", err)
		}
	}

	if db != nil {
		db.Close()
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *PeilScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// SchedulerStatus represents the current status of the scheduler
type SchedulerStatus struct {
	IsRunning        bool       `json:"is_running"`
	AreaCode         string     `json:"area_code"`
	HasPriceData     bool       `json:"has_price_data"`
	HasForecast      bool       `json:"has_forecast"`
	HasSchedule      bool       `json:"has_schedule"`
	ScheduleHours    int        `json:"schedule_hours"`
	ExpectedCost     float64    `json:"expected_cost_eur"`
	LastOptimization *time.Time `json:"last_optimization,omitempty"`
	CurrentFraction  *float64   `json:"current_fraction,omitempty"`
	DryRun           bool       `json:"dry_run"`
}

// GetStatus returns the current status of the scheduler
func (s *PeilScheduler) GetStatus() SchedulerStatus {
	_, hasForecast := s.weatherCache.Get()

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:    s.isRunning,
		AreaCode:     s.config.AreaCode,
		HasPriceData: s.priceDocument != nil,
		HasForecast:  hasForecast,
		HasSchedule:  s.schedule != nil,
		DryRun:       s.config.DryRun,
	}
	if s.schedule != nil {
		status.ScheduleHours = s.schedule.Len()
		status.ExpectedCost = s.schedule.TotalCost()
	}
	if !s.lastOptimization.IsZero() {
		t := s.lastOptimization
		status.LastOptimization = &t
	}
	if s.lastExecuted != nil {
		f := s.lastExecuted.Fraction
		status.CurrentFraction = &f
	}
	return status
}

// GetSchedule returns the current pump schedule, or nil before the first
// optimisation.
func (s *PeilScheduler) GetSchedule() *mpc.PumpSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// GetLastSimulation returns the result of the last simulation run.
func (s *PeilScheduler) GetLastSimulation() *network.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSimulation
}
