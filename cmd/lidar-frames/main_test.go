package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/lidar-buffer/internal/config"
	"github.com/banshee-data/lidar-buffer/internal/testutil"
)

func TestBuildConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor.toml")
	content := "sensor_id = \"from-file\"\nmodel = \"Puck LITE\"\nrpm = 600\nplot_every = 10\n"
	testutil.AssertNoError(t, os.WriteFile(path, []byte(content), 0644))

	f, fs, err := parseFlags([]string{"-config", path, "-rpm", "1200", "-sensor-id", "from-flag", "-strict"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := buildConfig(f, fs)
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}

	got := map[string]interface{}{
		"sensor_id":  cfg.GetSensorID(),
		"model":      cfg.GetModel(),
		"rpm":        cfg.GetRPM(),
		"strict":     cfg.GetStrictTimestamps(),
		"plot_every": cfg.GetPlotEvery(),
		"listen":     cfg.GetListenAddress(),
	}
	want := map[string]interface{}{
		"sensor_id":  "from-flag",
		"model":      "Puck LITE",
		"rpm":        1200,
		"strict":     true,
		"plot_every": 10,
		"listen":     ":2368",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"invalid rpm", []string{"-rpm", "100"}},
		{"unknown model", []string{"-model", "HDL-32E"}},
		{"missing config file", []string{"-config", "/nonexistent/sensor.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, fs, err := parseFlags(tt.args)
			if err != nil {
				t.Fatalf("parseFlags: %v", err)
			}
			_, err = buildConfig(f, fs)
			testutil.AssertError(t, err)
		})
	}

	if _, _, err := parseFlags([]string{"-no-such-flag"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func writeSweepCapture(t *testing.T, path string, packets int) {
	t.Helper()
	f, err := os.Create(path)
	testutil.AssertNoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	testutil.AssertNoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x60, 0x76, 0x88, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(192, 168, 1, 201), DstIP: net.IPv4(255, 255, 255, 255)}
	udp := &layers.UDP{SrcPort: 2368, DstPort: 2368}
	testutil.AssertNoError(t, udp.SetNetworkLayerForChecksum(ip))

	base := time.Unix(1_700_000_000, 0)
	for i, payload := range testutil.VLP16Sweep(0, packets, 40, 0, 4000) {
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		testutil.AssertNoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))

		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(float64(i) * 12 * 2 * 55.296 * float64(time.Microsecond))),
			CaptureLength: len(data),
			Length:        len(data),
		}
		testutil.AssertNoError(t, w.WritePacket(ci, data))
	}
}

func TestRun_ReplaysCaptureIntoPlots(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "sweep.pcap")
	writeSweepCapture(t, capture, 80)

	plotDir := filepath.Join(dir, "plots")
	cfg := config.EmptySensorConfig()
	sensorID, speed, every := "replay", 0.0, 1
	cfg.SensorID = &sensorID
	cfg.PCAPSpeed = &speed
	cfg.PlotDir = &plotDir
	cfg.PlotEvery = &every

	if err := run(context.Background(), cfg, runOptions{pcapFile: capture, pcapPort: 2368}); err != nil {
		t.Fatalf("run: %v", err)
	}

	// one full revolution plus the partial frame flushed on close
	for _, name := range []string{"frame_1.png", "frame_2.png"} {
		if _, err := os.Stat(filepath.Join(plotDir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(plotDir, "frame_3.png")); !os.IsNotExist(err) {
		t.Errorf("unexpected third frame plot: %v", err)
	}
	if _, err := os.Stat(filepath.Join(plotDir, "frames.html")); err != nil {
		t.Errorf("expected frame chart: %v", err)
	}
}

func TestRun_MissingCapture(t *testing.T) {
	cfg := config.EmptySensorConfig()
	err := run(context.Background(), cfg, runOptions{pcapFile: filepath.Join(t.TempDir(), "missing.pcap")})
	testutil.AssertError(t, err)
}

func TestRun_ListenerBindFailure(t *testing.T) {
	busy, err := net.ListenPacket("udp", "127.0.0.1:0")
	testutil.AssertNoError(t, err)
	defer busy.Close()

	cfg := config.EmptySensorConfig()
	addr := busy.LocalAddr().String()
	cfg.ListenAddress = &addr

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), cfg, runOptions{})
	}()

	select {
	case err := <-done:
		testutil.AssertError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return after failing to bind %s", addr)
	}
}
