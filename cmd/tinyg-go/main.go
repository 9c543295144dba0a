// tinyg-go is the motion controller host: it reads G-code from a serial
// port or the websocket report server, plans jerk-limited motion, and
// streams stepper segments to the step backend.
//
// Usage:
//
//	tinyg-go [-config machine.cfg] [options]
//
// Options:
//
//	-config string    Machine configuration file (default: stock profile)
//	-device string    Serial device for G-code input (overrides config)
//	-listen string    Status report listen address (overrides config)
//	-metrics string   Prometheus listen address (overrides config)
//	-segments string  Write the executed segment trace to a file
//	-loglevel string  debug, info, warning or error (overrides config)
//	-logfile string   Log file path (default: stderr)
//
// Examples:
//
//	# Stock profile, report server only
//	tinyg-go
//
//	# Stream G-code in over a USB serial adapter
//	tinyg-go -config machine.cfg -device /dev/ttyUSB0
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tinyg-go-migration/pkg/canon"
	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/gcode"
	"tinyg-go-migration/pkg/kinematics"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/metrics"
	"tinyg-go-migration/pkg/planner"
	"tinyg-go-migration/pkg/reactor"
	"tinyg-go-migration/pkg/report"
	"tinyg-go-migration/pkg/serial"
	"tinyg-go-migration/pkg/stepper"
)

func main() {
	configFile := flag.String("config", "", "Machine configuration file")
	device := flag.String("device", "", "Serial device for G-code input")
	listen := flag.String("listen", "", "Status report listen address")
	metricsAddr := flag.String("metrics", "", "Prometheus listen address")
	segmentFile := flag.String("segments", "", "Segment trace output file")
	logLevel := flag.String("loglevel", "", "Log level (debug/info/warning/error)")
	logFile := flag.String("logfile", "", "Log file path")
	flag.Parse()

	mp := config.DefaultMachineProfile()
	if *configFile != "" {
		loaded, err := config.LoadMachineProfile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
			os.Exit(1)
		}
		mp = loaded
	}

	// Command line overrides
	if *device != "" {
		mp.Serial.Device = *device
	}
	if *listen != "" {
		mp.Report.Listen = *listen
	}
	if *metricsAddr != "" {
		mp.Metrics.Listen = *metricsAddr
	}
	if *logLevel != "" {
		mp.Log.Level = *logLevel
	}
	if *logFile != "" {
		mp.Log.File = *logFile
	}

	level := log.ParseLevel(mp.Log.Level)
	var logWriter io.Writer = os.Stderr
	if mp.Log.File != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{
			Filename: mp.Log.File,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
		logWriter = w
	}
	makeLogger := func(prefix string) *log.Logger {
		l := log.New(prefix)
		l.SetLevel(level)
		l.SetWriter(logWriter)
		return l
	}
	logger := makeLogger("main")

	logger.Info("tinyg-go host starting")
	if *configFile != "" {
		logger.Info("config: %s", *configFile)
	} else {
		logger.Info("config: stock profile")
	}

	mm := metrics.NewMotionMetrics()

	// Step backend: segment trace file or discard.
	var backendWriter io.Writer = io.Discard
	if *segmentFile != "" {
		f, err := os.Create(*segmentFile)
		if err != nil {
			logger.Error("segment trace file: %v", err)
			os.Exit(1)
		}
		defer f.Close()
		backendWriter = f
		logger.Info("segment trace: %s", *segmentFile)
	}

	engine := stepper.New(&stepper.StreamBackend{W: backendWriter}, makeLogger("stepper"))
	engine.Metrics = mm

	kin, err := kinematics.New(mp.Motors)
	if err != nil {
		logger.Error("kinematics: %v", err)
		os.Exit(1)
	}

	plan := planner.New(mp.Planner, kin, engine, makeLogger("planner"))
	plan.Metrics = mm

	machine := canon.New(plan, makeLogger("canon"))
	machine.Metrics = mm

	exec := gcode.NewExecutor(machine, makeLogger("gcode"))
	exec.Metrics = mm

	react := reactor.New()
	ctl := newController(machineParts{
		react:   react,
		plan:    plan,
		machine: machine,
		exec:    exec,
		engine:  engine,
		mm:      mm,
	}, logger)

	// Status report server
	reportSrv := report.New(report.Config{
		Addr:     mp.Report.Listen,
		Interval: time.Duration(mp.Report.Interval * float64(time.Second)),
	}, ctl, makeLogger("report"))
	go func() {
		if err := reportSrv.Start(); err != nil {
			logger.Error("report server: %v", err)
		}
	}()
	logger.Info("status reports: http://localhost%s/status", mp.Report.Listen)

	// Prometheus endpoint
	var metricsSrv *metrics.MetricsServer
	if mp.Metrics.Listen != "" {
		metricsSrv = metrics.NewMetricsServer(mm, mp.Metrics.Listen)
		metricsSrv.StartAsync()
		logger.Info("metrics: http://localhost%s/metrics", mp.Metrics.Listen)
	}

	// Serial G-code input
	var port *serial.Port
	if mp.Serial.Device != "" {
		cfg := serial.DefaultConfig()
		cfg.Device = mp.Serial.Device
		cfg.BaudRate = mp.Serial.Baud
		cfg.ReadTimeout = 250 * time.Millisecond
		port, err = serial.Open(cfg)
		if err != nil {
			logger.Error("serial open: %v", err)
			os.Exit(1)
		}
		logger.Info("serial input: %s @ %d baud", port.Device(), mp.Serial.Baud)
		go ctl.serialLoop(port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		ctl.shutdown()
	}()

	logger.Info("tinyg-go host ready")
	react.Run()

	// Reactor ended: tear down the servers and the port.
	_ = reportSrv.Stop()
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = metricsSrv.Shutdown(ctx)
		cancel()
	}
	if port != nil {
		_ = port.Close()
	}
	logger.Info("tinyg-go host stopped")
}
