package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebServer provides HTTP endpoints for health checking, the current pump
// schedule, the last simulation and Prometheus metrics, and pushes status
// updates to WebSocket clients.
type WebServer struct {
	scheduler *PeilScheduler
	server    *http.Server
	port      int
	startTime time.Time

	upgrader     websocket.Upgrader
	clients      sync.Map // *wsClient -> struct{}
	broadcast    chan []byte
	done         chan struct{}
	stopOnce     sync.Once
	pushInterval time.Duration
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Version   string          `json:"version,omitempty"`
	Scheduler SchedulerHealth `json:"scheduler"`
	System    SystemHealth    `json:"system"`
}

// SchedulerHealth represents scheduler-specific health information
type SchedulerHealth struct {
	IsRunning        bool       `json:"is_running"`
	AreaCode         string     `json:"area_code"`
	HasPriceData     bool       `json:"has_price_data"`
	HasSchedule      bool       `json:"has_schedule"`
	LastOptimization *time.Time `json:"last_optimization,omitempty"`
	OptimizeInterval string     `json:"optimize_interval"`
}

// SystemHealth represents system-level health information
type SystemHealth struct {
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
}

// ScheduleEntryResponse is one hour of the pump schedule
type ScheduleEntryResponse struct {
	HourStart    time.Time `json:"hour_start"`
	Fraction     float64   `json:"fraction"`
	Running      bool      `json:"running"`
	Level        float64   `json:"level"`
	Price        float64   `json:"price_eur_per_mwh"`
	EnergyMWh    float64   `json:"energy_mwh"`
	ExpectedCost float64   `json:"expected_cost_eur"`
}

// ScheduleResponse is the /api/schedule payload
type ScheduleResponse struct {
	AreaCode     string                  `json:"area_code"`
	TotalCost    float64                 `json:"total_cost_eur"`
	TotalEnergy  float64                 `json:"total_energy_mwh"`
	Entries      []ScheduleEntryResponse `json:"entries"`
	OptimizedAt  *time.Time              `json:"optimized_at,omitempty"`
	CurrentEntry *ScheduleEntryResponse  `json:"current_entry,omitempty"`
}

// SimulationResponse is the /api/simulation payload
type SimulationResponse struct {
	RunID       string               `json:"run_id"`
	Start       time.Time            `json:"start"`
	Step        string               `json:"step"`
	Steps       int                  `json:"steps"`
	Levels      map[string][]float64 `json:"levels"`
	FinalLevels map[string]float64   `json:"final_levels"`
	TotalVolume float64              `json:"total_volume"`
}

// NewWebServer creates a new web server. It returns nil when port <= 0.
func NewWebServer(scheduler *PeilScheduler, port int) *WebServer {
	if port <= 0 {
		return nil // Web server disabled
	}

	mux := http.NewServeMux()
	ws := &WebServer{
		scheduler: scheduler,
		port:      port,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		broadcast:    make(chan []byte, 256),
		done:         make(chan struct{}),
		pushInterval: 5 * time.Second,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/api/health", ws.healthHandler)
	mux.HandleFunc("/api/ready", ws.readinessHandler)
	mux.HandleFunc("/api/status", ws.statusHandler)
	mux.HandleFunc("/api/schedule", ws.scheduleHandler)
	mux.HandleFunc("/api/simulation", ws.simulationHandler)
	mux.HandleFunc("/api/ws", ws.wsHandler)
	if m := scheduler.Metrics(); m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	return ws
}

// Start binds the port and serves in the background.
func (ws *WebServer) Start() error {
	if ws == nil {
		return nil // Web server disabled
	}

	ln, err := net.Listen("tcp", ws.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.server.Addr, err)
	}

	go ws.handleBroadcasts()
	go ws.broadcastStatus()

	go func() {
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.scheduler.logger.Printf("Web server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the web server
func (ws *WebServer) Stop(ctx context.Context) error {
	if ws == nil {
		return nil
	}
	ws.stopOnce.Do(func() { close(ws.done) })
	ws.closeClients()
	return ws.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// healthHandler handles the /api/health endpoint
func (ws *WebServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := ws.scheduler.GetStatus()
	config := ws.scheduler.GetConfig()

	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
		Scheduler: SchedulerHealth{
			IsRunning:        status.IsRunning,
			AreaCode:         status.AreaCode,
			HasPriceData:     status.HasPriceData,
			HasSchedule:      status.HasSchedule,
			LastOptimization: status.LastOptimization,
			OptimizeInterval: config.OptimizeInterval.String(),
		},
		System: SystemHealth{
			Uptime:     formatUptime(time.Since(ws.startTime)),
			Goroutines: runtime.NumGoroutine(),
		},
	}

	code := http.StatusOK
	if !status.IsRunning {
		health.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// readinessHandler reports ready once a schedule exists
func (ws *WebServer) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := ws.scheduler.GetStatus()
	ready := status.IsRunning && status.HasSchedule

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statusHandler handles the /api/status endpoint (detailed status)
func (ws *WebServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, ws.buildStatusData())
}

// buildStatusData builds the detailed status shared by /api/status and the
// WebSocket stream.
func (ws *WebServer) buildStatusData() map[string]any {
	config := ws.scheduler.GetConfig()
	doc := ws.scheduler.GetPriceDocument()

	priceData := map[string]any{
		"has_document": doc != nil,
	}
	if doc != nil {
		priceData["document_id"] = doc.MRID
		priceData["created_at"] = doc.CreatedDateTime
		if price, found := doc.HourlyAverage(ws.scheduler.now()); found {
			priceData["current_avg_price"] = price
			priceData["current_with_fees"] = price + config.ImportPriceOperatorFee + config.ImportPriceDeliveryFee
		}
	}

	data := map[string]any{
		"scheduler_status": ws.scheduler.GetStatus(),
		"price_data":       priceData,
		"level_band": map[string]float64{
			"min": config.MinLevel,
			"max": config.MaxLevel,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if schedule := ws.scheduler.GetSchedule(); schedule != nil {
		if e, ok := schedule.At(ws.scheduler.now()); ok {
			data["current_entry"] = ScheduleEntryResponse{
				HourStart:    e.HourStart,
				Fraction:     e.Fraction,
				Running:      e.Running,
				Level:        e.Level,
				Price:        e.PriceEURPerMWh,
				EnergyMWh:    e.EnergyMWh,
				ExpectedCost: e.ExpectedCost,
			}
		}
	}
	return data
}

// scheduleHandler returns the current pump schedule
func (ws *WebServer) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	schedule := ws.scheduler.GetSchedule()
	if schedule == nil {
		http.Error(w, "No schedule available", http.StatusNotFound)
		return
	}

	resp := ScheduleResponse{
		AreaCode:    ws.scheduler.GetConfig().AreaCode,
		TotalCost:   schedule.TotalCost(),
		TotalEnergy: schedule.TotalEnergy(),
		OptimizedAt: ws.scheduler.GetStatus().LastOptimization,
	}
	for _, e := range schedule.Entries() {
		resp.Entries = append(resp.Entries, ScheduleEntryResponse{
			HourStart:    e.HourStart,
			Fraction:     e.Fraction,
			Running:      e.Running,
			Level:        e.Level,
			Price:        e.PriceEURPerMWh,
			EnergyMWh:    e.EnergyMWh,
			ExpectedCost: e.ExpectedCost,
		})
	}
	if e, ok := schedule.At(ws.scheduler.now()); ok {
		i := int(e.HourStart.Sub(resp.Entries[0].HourStart) / time.Hour)
		if i >= 0 && i < len(resp.Entries) {
			resp.CurrentEntry = &resp.Entries[i]
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// simulationHandler returns the level series of the last simulation
func (ws *WebServer) simulationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result := ws.scheduler.GetLastSimulation()
	if result == nil {
		http.Error(w, "No simulation available", http.StatusNotFound)
		return
	}

	final := result.Final()
	resp := SimulationResponse{
		RunID:       result.RunID.String(),
		Start:       result.Start,
		Step:        result.StepDuration.String(),
		Steps:       len(result.Steps),
		Levels:      make(map[string][]float64, len(result.Areas)),
		FinalLevels: make(map[string]float64, len(result.Areas)),
		TotalVolume: final.TotalVolume(),
	}
	for i, code := range result.Areas {
		levels, _ := result.Levels(code)
		resp.Levels[code] = levels
		resp.FinalLevels[code] = final.Levels[i]
	}
	writeJSON(w, http.StatusOK, resp)
}

// formatUptime formats a duration as a string with seconds rounded to integer
func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
