package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the command line options.
type AppOptions struct {
	ConfigFile string
	EnvFile    string
	ReplayFile string
	VehicleID  string
	OutputDir  string
	MqttMode   bool
	SerialMode bool
	HttpMode   bool
	HttpPort   int
	Scan       bool
	RotateAll  float64
}

// Runner is implemented by App. Tests substitute a mock.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunReplay() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("trackmesh", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.EnvFile, "env-file", ".env", "Optional dotenv file with MQTT credentials")
	fs.StringVar(&opts.ReplayFile, "replay", "", "Map a track offline from a hex frame capture and exit")
	fs.StringVar(&opts.VehicleID, "vehicle", "replay", "Vehicle id used for --replay")
	fs.StringVar(&opts.OutputDir, "output", ".", "Output directory for --replay map, SVG, PNG and GeoJSON")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run the service over the MQTT bridge")
	fs.BoolVar(&opts.SerialMode, "serial", false, "Run the service over the serial dongle")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for maps and live progress")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")
	fs.BoolVar(&opts.Scan, "scan", false, "Drive unmapped vehicles at scan speed until their loop closes")
	fs.Float64Var(&opts.RotateAll, "rotate-all", 0, "Rotate rendered maps by degrees (0, 90, 180, 270)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "trackmesh version: %s\n", Version)
	app.ApplyOptions(opts)

	if opts.ReplayFile != "" {
		return app.RunReplay()
	}
	if opts.MqttMode || opts.SerialMode || opts.HttpMode {
		return app.RunService()
	}

	fmt.Fprintln(out, "trackmesh: nothing to do")
	fmt.Fprintln(out, "Use --replay=FILE to map a track from a frame capture")
	fmt.Fprintln(out, "Use --mqtt to run the service over the MQTT bridge")
	fmt.Fprintln(out, "Use --serial to run the service over a serial dongle")
	fmt.Fprintln(out, "Use --http to serve maps and live progress")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - link, vehicles and command pacing")
	fmt.Fprintln(out, "  .env        - MQTT_BROKER, MQTT_USERNAME, MQTT_PASSWORD overrides")
	return nil
}
