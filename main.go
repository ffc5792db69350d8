// Package main provides the peilbeheer entry point and CLI interface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devskill-org/peilbeheer/gemaal"
	"github.com/devskill-org/peilbeheer/network"
	"github.com/devskill-org/peilbeheer/scenario"
	"github.com/devskill-org/peilbeheer/scheduler"
)

func main() {
	// Command line flags
	var (
		configFile = flag.String("config", "config.json", "Configuration file path (.json or .toml)")
		info       = flag.Bool("info", false, "Show gemaal status read over Modbus")
		help       = flag.Bool("help", false, "Show help message")
		serverOnly = flag.Bool("serverOnly", false, "Run only web server without periodic tasks")
		optimize   = flag.Bool("optimize", false, "Run the pump schedule optimisation once and print the schedule")
		simulate   = flag.String("simulate", "", "Run the given scenario file once and print the level series")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	config, err := scheduler.LoadConfig(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}

	if *info {
		if err := showGemaalInfo(config); err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		return
	}

	if *optimize {
		if err := runOptimize(config); err != nil {
			os.Exit(1)
		}
		return
	}

	if *simulate != "" {
		if err := runSimulation(config, *simulate); err != nil {
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Starting peilbeheer with the following configuration:\n")
	fmt.Printf("  Area: %s (%.0f m²)\n", config.AreaCode, config.SurfaceArea)
	fmt.Printf("  Level band: %.2f .. %.2f m\n", config.MinLevel, config.MaxLevel)
	fmt.Printf("  Pump: %.2f m³/s, %.0f kW (%s)\n", config.PumpCapacity, config.PumpPower, config.Direction)
	fmt.Printf("  Optimize Interval: %s\n", config.OptimizeInterval)
	if config.GemaalModbusAddress != "" {
		fmt.Printf("  Gemaal: %s (slave %d)\n", config.GemaalModbusAddress, config.GemaalSlaveID)
	}
	if config.DryRun {
		fmt.Printf("  Mode: DRY-RUN (setpoints will be logged only)\n")
	}
	fmt.Println()

	logger := log.New(os.Stdout, "[SCHEDULER] ", log.LstdFlags)
	peilScheduler := scheduler.NewPeilSchedulerWithWebServer(config, logger)

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := peilScheduler.Start(ctx, *serverOnly); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Printf("Scheduler error: %v", err)
			}
		}
	}()

	logger.Printf("Scheduler started. Press Ctrl+C to stop...")

	<-sigChan
	logger.Printf("Shutdown signal received, stopping scheduler...")

	cancel()
	peilScheduler.Stop()

	logger.Printf("Scheduler stopped successfully")
}

func showGemaalInfo(config *scheduler.Config) error {
	if config.GemaalModbusAddress == "" {
		return fmt.Errorf("gemaal_modbus_address not configured")
	}
	client, err := gemaal.NewTCPClient(config.GemaalModbusAddress, byte(config.GemaalSlaveID))
	if err != nil {
		return err
	}
	defer client.Close()

	status, err := client.ReadStatus()
	if err != nil {
		return err
	}

	fmt.Printf("Gemaal %s (slave %d)\n", config.GemaalModbusAddress, config.GemaalSlaveID)
	fmt.Printf("  State:            %s\n", status.State)
	fmt.Printf("  Upstream level:   %.3f m\n", status.UpstreamLevel)
	fmt.Printf("  Downstream level: %.3f m\n", status.DownstreamLevel)
	fmt.Printf("  Head:             %.3f m\n", status.Head())
	fmt.Printf("  Flow:             %.3f m³/s\n", status.Flow)
	fmt.Printf("  Setpoint:         %.1f%%\n", status.Setpoint*100)
	fmt.Printf("  Remote control:   %t\n", status.Remote)
	fmt.Printf("  Power:            %.1f kW\n", status.PowerKW)
	fmt.Printf("  Alarms:           0x%04x\n", status.Alarms)
	return nil
}

func runOptimize(config *scheduler.Config) error {
	logger := log.New(os.Stdout, "[OPT] ", log.LstdFlags)
	peilScheduler := scheduler.NewPeilScheduler(config, logger)

	logger.Printf("Running pump schedule optimisation...")
	schedule, err := peilScheduler.RunOptimize(context.Background())
	if schedule == nil {
		logger.Printf("Error during optimisation: %v", err)
		return err
	}
	if err != nil {
		logger.Printf("Schedule computed but not applied: %v", err)
	}

	fmt.Println("\n========================================")
	fmt.Println("PUMP SCHEDULE")
	fmt.Println("========================================")
	fmt.Printf("Area: %s, %d hours\n\n", config.AreaCode, schedule.Len())

	fmt.Println("┌──────┬──────────────────┬──────────┬───────────┬────────────┬────────────┬──────────┐")
	fmt.Println("│ Hour │      Start       │  Pump %  │ Level (m) │ Price      │ Energy     │   Cost   │")
	fmt.Println("│      │                  │          │ (end)     │ (EUR/MWh)  │   (MWh)    │  (EUR)   │")
	fmt.Println("├──────┼──────────────────┼──────────┼───────────┼────────────┼────────────┼──────────┤")
	for i, e := range schedule.Entries() {
		fmt.Printf("│ %4d │ %16s │  %6.1f  │  %7.3f  │  %8.2f  │  %8.4f  │ %8.2f │\n",
			i,
			e.HourStart.Local().Format("2006-01-02 15:04"),
			e.Fraction*100,
			e.Level,
			e.PriceEURPerMWh,
			e.EnergyMWh,
			e.ExpectedCost,
		)
	}
	fmt.Println("└──────┴──────────────────┴──────────┴───────────┴────────────┴────────────┴──────────┘")
	fmt.Println("\n========================================")
	fmt.Println("SUMMARY")
	fmt.Println("========================================")
	fmt.Printf("Total energy:        %.3f MWh\n", schedule.TotalEnergy())
	fmt.Printf("Total expected cost: %.2f EUR\n", schedule.TotalCost())
	fmt.Println("========================================")
	return nil
}

func runSimulation(config *scheduler.Config, filename string) error {
	logger := log.New(os.Stdout, "[SIM] ", log.LstdFlags)

	sc, err := scenario.LoadFile(filename)
	if err != nil {
		logger.Printf("Error loading scenario: %v", err)
		return err
	}

	peilScheduler := scheduler.NewPeilScheduler(config, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := peilScheduler.RunSimulation(ctx, sc)
	if err != nil {
		logger.Printf("Error during simulation: %v", err)
		return err
	}

	printSimulation(sc.Name, result)
	return nil
}

// printSimulation prints the area levels once per hour of simulated time.
func printSimulation(name string, result *network.Result) {
	fmt.Println("\n========================================")
	fmt.Printf("SIMULATION %s\n", name)
	fmt.Println("========================================")
	fmt.Printf("Run %s, %d steps of %s\n\n", result.RunID, len(result.Steps), result.StepDuration)

	fmt.Printf("%-17s", "Time")
	for _, code := range result.Areas {
		fmt.Printf(" %12s", code)
	}
	fmt.Println()

	every := max(int(time.Hour/result.StepDuration), 1)
	for i, step := range result.All() {
		if (i+1)%every != 0 && i != len(result.Steps)-1 {
			continue
		}
		fmt.Printf("%-17s", step.Time.Local().Format("2006-01-02 15:04"))
		for _, level := range step.Levels {
			fmt.Printf(" %12.3f", level)
		}
		fmt.Println()
	}

	fmt.Println("\n========================================")
	fmt.Println("FLOWS AT END")
	fmt.Println("========================================")
	if n := len(result.Steps); n > 0 {
		for i, id := range result.Edges {
			fmt.Printf("%-12s %10.3f m³/s\n", id, result.Steps[n-1].Flows[i])
		}
	}
	fmt.Printf("\nTotal volume: %.0f -> %.0f m³\n", result.Initial.TotalVolume(), result.Final().TotalVolume())
}

func showHelp() {
	fmt.Println("peilbeheer - Water level simulation and pump schedule optimisation")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Simulates networks of peilgebieden connected by gemalen, overstorten,")
	fmt.Println("  keerkleppen and open connections, and keeps one area within its level")
	fmt.Println("  band at the lowest energy cost using day-ahead prices and the weather forecast.")
	fmt.Println()
	fmt.Println("  Key Features:")
	fmt.Println("  - Water balance simulation with PID level control")
	fmt.Println("  - Price-optimal hourly pump schedules")
	fmt.Println("  - Precipitation and Makkink evaporation from the MET Norway forecast")
	fmt.Println("  - Gemaal control over Modbus TCP")
	fmt.Println("  - Status API and Prometheus metrics")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  peilbeheer [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Run the scheduler")
	fmt.Println("  peilbeheer --config=config.toml")
	fmt.Println()
	fmt.Println("  # Simulate a scenario")
	fmt.Println("  peilbeheer -simulate=scenario/testdata/polder.json")
	fmt.Println()
	fmt.Println("  # Compute the pump schedule once")
	fmt.Println("  peilbeheer -optimize")
	fmt.Println()
	fmt.Println("  # Show gemaal status")
	fmt.Println("  peilbeheer -info")
	fmt.Println()
	fmt.Println("  # Show this help")
	fmt.Println("  peilbeheer -help")
}
