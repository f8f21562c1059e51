package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kwv/trackmesh/config"
	"github.com/kwv/trackmesh/track"
	"github.com/kwv/trackmesh/vehicle"
)

// scanAccel is the acceleration used when driving a mapping lap.
const scanAccel = 1000

// App encapsulates the application state and dependencies
type App struct {
	Config    *config.Config
	Registry  *vehicle.Registry
	Sessions  *sessionSet
	Bridge    *vehicle.MQTTBridge
	Publisher *track.Publisher

	// CLI Flags (effectively dependencies)
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

	out        io.Writer
	retryDelay time.Duration
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Registry:   vehicle.NewRegistry(),
		Sessions:   newSessionSet(),
		out:        os.Stdout,
		retryDelay: 2 * time.Second,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.EnvFile = opts.EnvFile
	a.ReplayFile = opts.ReplayFile
	a.VehicleID = opts.VehicleID
	a.OutputDir = opts.OutputDir
	a.MqttMode = opts.MqttMode
	a.SerialMode = opts.SerialMode
	a.HttpMode = opts.HttpMode
	a.HttpPort = opts.HttpPort
	a.Scan = opts.Scan
	a.RotateAll = opts.RotateAll
}

// sessionSet is the per-vehicle track sessions of a running service.
type sessionSet struct {
	mu       sync.RWMutex
	sessions map[string]*track.Session
}

func newSessionSet() *sessionSet {
	return &sessionSet{sessions: make(map[string]*track.Session)}
}

func (s *sessionSet) Add(session *track.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.VehicleID()] = session
}

func (s *sessionSet) Get(id string) (*track.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

func (s *sessionSet) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// --- Replay ---

// replayLink feeds captured frames to a vehicle. Commands go nowhere.
type replayLink struct {
	onValue func([]byte)
}

func (l *replayLink) Connect() error                        { return nil }
func (l *replayLink) Disconnect() error                     { return nil }
func (l *replayLink) IsConnected() bool                     { return true }
func (l *replayLink) WriteRaw([]byte) bool                  { return false }
func (l *replayLink) Subscribe(onValueChanged func([]byte)) { l.onValue = onValueChanged }

func (l *replayLink) deliver(frame []byte) {
	if l.onValue != nil {
		l.onValue(frame)
	}
}

// ReadCapture parses a frame capture: one hex encoded frame per line, bytes
// optionally separated by spaces. Blank lines and # comments are skipped.
func ReadCapture(r io.Reader) ([][]byte, error) {
	var frames [][]byte
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		frame, err := hex.DecodeString(strings.Join(strings.Fields(text), ""))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading capture: %w", err)
	}
	return frames, nil
}

// RunReplay maps a track offline from a frame capture and writes the map
// document, SVG, PNG and GeoJSON to the output directory.
func (a *App) RunReplay() error {
	f, err := os.Open(a.ReplayFile)
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer f.Close()

	frames, err := ReadCapture(f)
	if err != nil {
		return err
	}

	commands := config.Default().Commands
	if a.Config != nil {
		commands = a.Config.Commands
	}

	link := &replayLink{}
	v := vehicle.New(a.VehicleID, link, commands)
	session := track.NewSession(a.VehicleID)
	if err := session.Attach(v.Router()); err != nil {
		return fmt.Errorf("attaching session: %w", err)
	}
	session.Start()
	if err := v.Connect(); err != nil {
		return fmt.Errorf("connecting replay: %w", err)
	}
	for _, frame := range frames {
		link.deliver(frame)
	}

	doc, ok := session.Document()
	if !ok {
		return fmt.Errorf("loop did not close after %d frames (%d pieces found)", len(frames), len(session.Pieces()))
	}
	fmt.Fprintf(a.out, "%s: %d frames, %d pieces, shape %s\n", a.VehicleID, len(frames), len(doc.Pieces), doc.Shape)

	written, err := writeMapOutputs(a.OutputDir, doc, a.RotateAll)
	for _, p := range written {
		fmt.Fprintf(a.out, "  wrote %s\n", p)
	}
	return err
}

// writeMapOutputs writes every export of a finished map into dir and returns
// the paths written.
func writeMapOutputs(dir string, doc track.Document, rotateAll float64) ([]string, error) {
	var written []string

	docPath := track.DocumentPath(dir, doc.VehicleID)
	if err := track.SaveDocument(docPath, doc); err != nil {
		return written, err
	}
	written = append(written, docPath)

	renderer := track.NewVectorRenderer(doc.Pieces)
	renderer.GlobalRotation = rotateAll

	outputs := []struct {
		name   string
		render func(io.Writer) error
	}{
		{doc.VehicleID + ".svg", renderer.RenderToSVG},
		{doc.VehicleID + ".png", renderer.RenderToPNG},
		{doc.VehicleID + "-preview.png", track.NewRasterRenderer(doc.Pieces).RenderToPNG},
		{doc.VehicleID + ".geojson", func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(track.DocumentToFeatureCollection(doc))
		}},
	}
	for _, o := range outputs {
		p := filepath.Join(dir, o.name)
		if err := writeFile(p, o.render); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	return written, nil
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

// --- Service ---

// RunService connects the configured vehicles, maps their tracks and serves
// the results until interrupted.
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.loadConfig(); err != nil {
		return err
	}

	newLink, err := a.linkFactory()
	if err != nil {
		return err
	}
	if err := a.setupVehicles(newLink); err != nil {
		return err
	}
	return a.serve(ctx)
}

// loadConfig reads the dotenv and YAML configuration and applies the link
// mode selected on the command line.
func (a *App) loadConfig() error {
	if err := config.LoadDotEnv(a.EnvFile); err != nil {
		log.Printf("Warning: %v", err)
	}

	cfg, err := config.Read(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", a.ConfigFile, err)
	}

	switch {
	case a.MqttMode && a.SerialMode:
		return errors.New("--mqtt and --serial are mutually exclusive")
	case a.MqttMode:
		cfg.Link = config.LinkMQTT
	case a.SerialMode:
		cfg.Link = config.LinkSerial
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("loading config %s: %w", a.ConfigFile, err)
	}
	// --http and --http-port win over the file
	if cfg.HTTP.Enabled && !a.HttpMode {
		a.HttpMode = true
		a.HttpPort = cfg.HTTP.Port
	}

	a.Config = cfg
	log.Printf("Loaded config from %s (%s link, %d vehicles)", a.ConfigFile, cfg.Link, len(cfg.Vehicles))
	return nil
}

// linkFactory builds the transport selected by the configuration.
func (a *App) linkFactory() (func(id string) (vehicle.Link, error), error) {
	cfg := a.Config
	switch cfg.Link {
	case config.LinkSerial:
		if len(cfg.Vehicles) != 1 {
			return nil, fmt.Errorf("serial link carries exactly one vehicle, %d configured", len(cfg.Vehicles))
		}
		return func(id string) (vehicle.Link, error) {
			return vehicle.NewSerialLink(cfg.Serial.Port, cfg.Serial.BaudRate, vehicle.OpenSerialPort), nil
		}, nil

	default:
		bridge, err := vehicle.NewMQTTBridge(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("initializing MQTT: %w", err)
		}
		bridge.Start()
		a.Bridge = bridge
		a.Publisher = track.NewPublisher(bridge.Client(), cfg.MQTT.PublishPrefix)
		return func(id string) (vehicle.Link, error) {
			return bridge.Link(id), nil
		}, nil
	}
}

// setupVehicles creates a vehicle and a track session per configured vehicle.
// A cached map is restored; otherwise the session starts mapping.
func (a *App) setupVehicles(newLink func(id string) (vehicle.Link, error)) error {
	for _, vc := range a.Config.Vehicles {
		link, err := newLink(vc.ID)
		if err != nil {
			return fmt.Errorf("creating link for %s: %w", vc.ID, err)
		}
		v := vehicle.New(vc.ID, link, a.Config.Commands)
		if err := a.Registry.Add(v); err != nil {
			return err
		}

		session := track.NewSession(vc.ID)
		if err := session.Attach(v.Router()); err != nil {
			return fmt.Errorf("attaching session for %s: %w", vc.ID, err)
		}
		if a.Publisher != nil {
			a.Publisher.Bind(session)
		}
		session.SetCompleteHandler(a.onMapComplete(v, session))

		cachePath := track.DocumentPath(a.Config.MapCacheDir, vc.ID)
		if doc, err := track.LoadDocument(cachePath); err == nil {
			session.Restore(doc.Pieces)
			log.Printf("%s: restored map with %d pieces from %s", vc.ID, len(doc.Pieces), cachePath)
		} else {
			if !errors.Is(err, os.ErrNotExist) {
				log.Printf("Warning: ignoring map cache for %s: %v", vc.ID, err)
			}
			session.Start()
		}
		a.Sessions.Add(session)
	}
	return nil
}

// onMapComplete caches and publishes a finished map. A vehicle driving a
// scan lap is stopped.
func (a *App) onMapComplete(v *vehicle.Vehicle, session *track.Session) func(track.Result) {
	return func(res track.Result) {
		doc, ok := session.Document()
		if !ok {
			return
		}
		path := track.DocumentPath(a.Config.MapCacheDir, res.VehicleID)
		if err := track.SaveDocument(path, doc); err != nil {
			log.Printf("Error caching map for %s: %v", res.VehicleID, err)
		} else {
			log.Printf("%s: cached map to %s", res.VehicleID, path)
		}
		if a.Publisher != nil {
			if err := a.Publisher.PublishMap(doc); err != nil {
				log.Printf("Error publishing map for %s: %v", res.VehicleID, err)
			}
		}
		if a.Scan {
			if err := v.Stop(scanAccel); err != nil {
				log.Printf("Error stopping %s after scan: %v", res.VehicleID, err)
			}
		}
	}
}

// connectVehicle connects v and, when scanning, starts a mapping lap.
func (a *App) connectVehicle(v *vehicle.Vehicle) error {
	if err := v.Connect(); err != nil {
		return err
	}
	if err := v.SetSDKMode(true); err != nil {
		log.Printf("Warning: %s: enabling SDK mode: %v", v.ID(), err)
	}
	if session, ok := a.Sessions.Get(v.ID()); ok && a.Scan && session.State() == track.MapperGathering {
		if err := v.SetSpeed(a.Config.ScanSpeed, scanAccel); err != nil {
			return fmt.Errorf("starting scan lap: %w", err)
		}
		log.Printf("%s: scanning at speed %d", v.ID(), a.Config.ScanSpeed)
	}
	log.Printf("%s: connected (session %s)", v.ID(), v.Session())
	return nil
}

// connectAll connects every vehicle, retrying the ones that fail until all
// are connected or ctx is done.
func (a *App) connectAll(ctx context.Context) {
	pending := a.Registry.IDs()
	for len(pending) > 0 {
		var failed []string
		for _, id := range pending {
			v, ok := a.Registry.Get(id)
			if !ok {
				continue
			}
			if err := a.connectVehicle(v); err != nil {
				log.Printf("%s: connect failed, retrying in %v: %v", id, a.retryDelay, err)
				failed = append(failed, id)
			}
		}
		pending = failed
		if len(pending) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.retryDelay):
		}
	}
}

func (a *App) serve(ctx context.Context) error {
	var srv *http.Server
	if a.HttpMode {
		srv = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.Registry, a.Sessions, a.Config, a.RotateAll),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
			}
		}()
	}

	go a.connectAll(ctx)

	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")
	fmt.Fprintf(a.out, "Link: %s\n", a.Config.Link)
	for _, id := range a.Registry.IDs() {
		fmt.Fprintf(a.out, "  - %s\n", id)
	}
	if a.Publisher != nil {
		fmt.Fprintf(a.out, "Publishing to: %s/{vehicleID}/pieces|map|progress\n", a.Config.MQTT.PublishPrefix)
	}
	if srv != nil {
		fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.out, "  GET /health                       - Health check")
		fmt.Fprintln(a.out, "  GET /vehicles                     - Vehicles and mapping state")
		fmt.Fprintln(a.out, "  GET /vehicles/{id}/map            - Finished map document")
		fmt.Fprintln(a.out, "  GET /vehicles/{id}/track.svg      - Rendered map with live position")
	}
	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")

	<-ctx.Done()

	fmt.Fprintln(a.out, "\nShutting down service...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	a.Registry.Each(func(v *vehicle.Vehicle) {
		if err := v.Disconnect(); err != nil {
			log.Printf("%s: disconnect: %v", v.ID(), err)
		}
	})
	if a.Bridge != nil {
		a.Bridge.Close()
	}
	fmt.Fprintln(a.out, "Service stopped")
	return nil
}
