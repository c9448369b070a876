// Command lidar-frames assembles Velodyne VLP-16 packets into one point
// cloud frame per sensor revolution. Packets come from the sensor over UDP
// or from a pcap/pcapng capture; frames go to MQTT, PNG plots and an HTML frame chart.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/lidar-buffer/internal/config"
	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets/network"
	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets/parse"
	"github.com/banshee-data/lidar-buffer/internal/lidar/l2frames"
	"github.com/banshee-data/lidar-buffer/internal/lidar/monitor"
	"github.com/banshee-data/lidar-buffer/internal/lidar/pipeline"
	"github.com/banshee-data/lidar-buffer/internal/lidar/publish"
	"github.com/banshee-data/lidar-buffer/internal/monitoring"
	"github.com/banshee-data/lidar-buffer/internal/version"
)

// cliFlags holds the command line. Flags that are set override the config
// file; unset flags leave it alone.
type cliFlags struct {
	configPath string
	pcapFile   string
	pcapPort   int
	debug      bool
	version    bool

	sensorID    string
	model       string
	calibration string
	rpm         int
	strict      bool
	listen      string
	pcapSpeed   float64
	forwardAddr string
	forwardPort int
	mqttBroker  string
	mqttTopic   string
	plotDir     string
	plotEvery   int
	logFile     string
}

func parseFlags(args []string) (*cliFlags, *flag.FlagSet, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("lidar-frames", flag.ContinueOnError)

	fs.StringVar(&f.configPath, "config", "", "Path to a .json, .toml or .yaml config file")
	fs.StringVar(&f.pcapFile, "pcap", "", "Replay a pcap/pcapng capture instead of listening on UDP")
	fs.IntVar(&f.pcapPort, "pcap-port", network.DefaultDataPort, "UDP destination port to replay from the capture (0 = all)")
	fs.BoolVar(&f.debug, "debug", false, "Log frame assembly and pipeline diagnostics to stderr")
	fs.BoolVar(&f.version, "version", false, "Print the version and exit")

	fs.StringVar(&f.sensorID, "sensor-id", "", "Sensor identifier used in frame IDs and MQTT topics")
	fs.StringVar(&f.model, "model", "", "Sensor model: VLP-16, Puck LITE or Puck Hi-Res")
	fs.StringVar(&f.calibration, "calibration", "", "Calibration CSV overriding the model's factory table")
	fs.IntVar(&f.rpm, "rpm", 0, "Motor speed in RPM (multiple of 60)")
	fs.BoolVar(&f.strict, "strict", false, "Drop out-of-order packets instead of warning")
	fs.StringVar(&f.listen, "listen", "", "UDP listen address for live packets")
	fs.Float64Var(&f.pcapSpeed, "pcap-speed", 0, "Replay speed multiplier (0 = as fast as possible)")
	fs.StringVar(&f.forwardAddr, "forward-addr", "", "Forward raw packets to this host (e.g. for LidarView)")
	fs.IntVar(&f.forwardPort, "forward-port", 0, "Port to forward raw packets to")
	fs.StringVar(&f.mqttBroker, "mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	fs.StringVar(&f.mqttTopic, "mqtt-topic", "", "Base MQTT topic")
	fs.StringVar(&f.plotDir, "plot-dir", "", "Write frame plots to this directory")
	fs.IntVar(&f.plotEvery, "plot-every", 0, "Plot one frame in every N")
	fs.StringVar(&f.logFile, "log-file", "", "Also write logs to this rotating file")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs, nil
}

// buildConfig loads the config file, if any, and applies explicitly set
// flags on top of it.
func buildConfig(f *cliFlags, fs *flag.FlagSet) (*config.SensorConfig, error) {
	cfg := config.EmptySensorConfig()
	if f.configPath != "" {
		loaded, err := config.LoadSensorConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "sensor-id":
			cfg.SensorID = &f.sensorID
		case "model":
			cfg.Model = &f.model
		case "calibration":
			cfg.CalibrationFile = &f.calibration
		case "rpm":
			cfg.RPM = &f.rpm
		case "strict":
			cfg.StrictTimestamps = &f.strict
		case "listen":
			cfg.ListenAddress = &f.listen
		case "pcap-speed":
			cfg.PCAPSpeed = &f.pcapSpeed
		case "forward-addr":
			cfg.ForwardAddress = &f.forwardAddr
		case "forward-port":
			cfg.ForwardPort = &f.forwardPort
		case "mqtt-broker":
			cfg.MQTTBroker = &f.mqttBroker
		case "mqtt-topic":
			cfg.MQTTTopic = &f.mqttTopic
		case "plot-dir":
			cfg.PlotDir = &f.plotDir
		case "plot-every":
			cfg.PlotEvery = &f.plotEvery
		case "log-file":
			cfg.LogFile = &f.logFile
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runOptions are the settings that only exist on the command line.
type runOptions struct {
	pcapFile string
	pcapPort int
}

// configureDiagnostics routes the package log streams.
func configureDiagnostics(debug bool) {
	ops := log.Writer()
	var diag, trace io.Writer
	if debug {
		diag, trace = os.Stderr, os.Stderr
		l2frames.SetDebugLogger(os.Stderr)
	} else {
		l2frames.SetDebugLogger(nil)
	}
	parse.SetLogWriters(ops, diag, trace)
	pipeline.SetLogWriters(ops, diag, trace)
}

func run(ctx context.Context, cfg *config.SensorConfig, opts runOptions) error {
	cal, err := cfg.LoadCalibration()
	if err != nil {
		return fmt.Errorf("failed to load calibration: %w", err)
	}

	p, err := pipeline.New(pipeline.Config{
		SensorID:         cfg.GetSensorID(),
		RPM:              cfg.GetRPM(),
		StrictTimestamps: cfg.GetStrictTimestamps(),
		Calibration:      cal,
	})
	if err != nil {
		return err
	}

	if broker := cfg.GetMQTTBroker(); broker != "" {
		pub, err := publish.NewMQTTPublisher(publish.MQTTConfig{
			Broker:    broker,
			Topic:     cfg.GetMQTTTopic(),
			QoS:       cfg.GetMQTTQoS(),
			Retain:    cfg.GetMQTTRetain(),
			MaxPoints: cfg.GetMQTTMaxPoints(),
		}, p.SessionID())
		if err != nil {
			return err
		}
		defer pub.Close()
		p.AddSink(pub)
		log.Printf("Publishing frames to %s", pub.Topic(cfg.GetSensorID()))
	}

	var chart *monitor.FrameChart
	if dir := cfg.GetPlotDir(); dir != "" {
		plotter, err := monitor.NewFramePlotter(dir, cfg.GetPlotEvery(), 0)
		if err != nil {
			return err
		}
		p.AddSink(plotter)
		log.Printf("Plotting every %d frames to %s", cfg.GetPlotEvery(), dir)

		chart, err = monitor.NewFrameChart(filepath.Join(dir, "frames.html"), monitor.DefaultChartFrames)
		if err != nil {
			return err
		}
		p.AddSink(chart)
	}

	stats := network.NewPacketStats(nil)
	interval := cfg.GetStatsInterval()

	var forwarder *network.PacketForwarder
	if addr := cfg.GetForwardAddress(); addr != "" {
		forwarder, err = network.NewPacketForwarder(addr, cfg.GetForwardPort(), stats, interval)
		if err != nil {
			return err
		}
		defer forwarder.Close()
		log.Printf("Forwarding raw packets to %s", forwarder.Address())
	}

	decoder := parse.NewVLP16Decoder()

	var runErr error
	if opts.pcapFile != "" {
		if forwarder != nil {
			forwarder.Start(ctx)
		}
		var result network.PCAPReplayResult
		result, runErr = network.ReadPCAPFile(ctx, network.NewGoPacketReader(), opts.pcapFile, network.PCAPReplayConfig{
			UDPPort:         opts.pcapPort,
			Decoder:         decoder,
			Handler:         p,
			Stats:           stats,
			Forwarder:       forwarder,
			SpeedMultiplier: cfg.GetPCAPSpeed(),
		})
		stats.LogStats()
		log.Printf("Replayed %d datagrams (%d decoded) from %s in %v",
			result.Datagrams, decoder.PacketCount(), opts.pcapFile, result.Elapsed)
	} else {
		listener := network.NewUDPListener(network.UDPListenerConfig{
			Address:     cfg.GetListenAddress(),
			RcvBuf:      cfg.GetRcvBuf(),
			LogInterval: interval,
			Stats:       stats,
			Forwarder:   forwarder,
			Decoder:     decoder,
			Handler:     p,
		})

		// Start returns early when the socket cannot be bound, so the stats
		// goroutine gets its own context.
		statsCtx, cancelStats := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			logPipelineStats(statsCtx, p, interval)
		}()

		runErr = listener.Start(ctx)
		cancelStats()
		wg.Wait()
	}

	if err := p.Close(); err != nil {
		log.Printf("Final frame delivery failed: %v", err)
	}
	p.LogStats()

	if chart != nil {
		if err := chart.Render(); err != nil {
			log.Printf("Frame chart render failed: %v", err)
		} else {
			log.Printf("Wrote frame chart for %d frames to %s", chart.Len(), chart.Path())
		}
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// logPipelineStats logs pipeline counters until ctx is cancelled.
func logPipelineStats(ctx context.Context, p *pipeline.Pipeline, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.LogStats()
		}
	}
}

func main() {
	f, fs, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if f.version {
		fmt.Println("lidar-frames", version.String())
		return
	}

	cfg, err := buildConfig(f, fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCloser, err := monitoring.SetupLogging(cfg.LogConfig())
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()
	configureDiagnostics(f.debug)
	log.Printf("lidar-frames %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, runOptions{pcapFile: f.pcapFile, pcapPort: f.pcapPort}); err != nil {
		log.Printf("lidar-frames: %v", err)
		stop()
		logCloser.Close()
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}
