package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/TetsujinOni/go-tartuffe/internal/api"
	"github.com/TetsujinOni/go-tartuffe/internal/api/handlers"
	"github.com/TetsujinOni/go-tartuffe/internal/config"
	"github.com/TetsujinOni/go-tartuffe/internal/core/decider"
	"github.com/TetsujinOni/go-tartuffe/internal/core/decisioncache"
	"github.com/TetsujinOni/go-tartuffe/internal/core/pipeline"
	"github.com/TetsujinOni/go-tartuffe/internal/core/recording"
	"github.com/TetsujinOni/go-tartuffe/internal/core/scriptpool"
	"github.com/TetsujinOni/go-tartuffe/internal/logging"
	"github.com/TetsujinOni/go-tartuffe/internal/version"
)

func main() {
	// Check for subcommands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "save":
			runSave()
			return
		case "replay":
			runReplay()
			return
		case "stop":
			runStop()
			return
		case "verify":
			runVerify()
			return
		}
	}

	// Default: start command
	runStart()
}

func runStart() {
	// Define command line flags
	port := flag.Int("port", 2525, "the port to run the mountebank server on")
	host := flag.String("host", "", "the hostname to bind the mountebank server to")
	allowInjection := flag.Bool("allowInjection", false, "set to allow JavaScript injection")
	localOnly := flag.Bool("localOnly", false, "only accept requests from localhost")
	showVersion := flag.Bool("version", false, "show version information")

	// Config file options
	configFile := flag.String("configfile", "", "file to load imposters from, can be an EJS template")
	noParse := flag.Bool("noParse", false, "prevent EJS template rendering, treat config as raw JSON")

	// Logging options
	logLevel := flag.String("loglevel", "info", "level for logging (debug, info, warn, error)")
	logFile := flag.String("logfile", "mb.log", "path to use for logging")
	noLogFile := flag.Bool("nologfile", false, "prevent logging to the filesystem")

	// Other options
	pidFile := flag.String("pidfile", "mb.pid", "where the pid is stored for the stop command")
	debug := flag.Bool("debug", false, "include stub match information in imposter retrievals")
	ipWhitelist := flag.String("ipWhitelist", "*", "pipe-delimited list of allowed IP addresses")
	origin := flag.String("origin", "", "safe origin for CORS requests")
	apiKey := flag.String("apikey", "", "API key for authentication")

	// Persistence options
	dataDir := flag.String("datadir", "", "directory to persist imposters to")

	// Formatter options
	formatter := flag.String("formatter", "", "path to custom formatter module (Go plugin)")

	// Fault-injection proxy mode
	rulesFile := flag.String("rules", "", "path to a rift YAML rule config; enables proxy/fault-injection mode")

	flag.Parse()

	// Formatter is a future enhancement - for now just log if specified
	if *formatter != "" {
		logging.Info("custom formatter specified (not yet implemented)", "path", *formatter)
	}

	// Handle version flag
	if *showVersion {
		fmt.Printf("go-tartuffe version %s (compatible with mountebank %s)\n",
			version.Version, version.MountebankVersion)
		os.Exit(0)
	}

	// Set up logging
	setupLogging(*logLevel, *logFile, *noLogFile)

	// Write PID file
	if *pidFile != "" {
		if err := os.WriteFile(*pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			logging.Warn("failed to write pid file", "error", err)
		}
	}

	// Create server
	srv := api.NewServer(api.ServerConfig{
		Port:           *port,
		Host:           *host,
		AllowInjection: *allowInjection,
		LocalOnly:      *localOnly,
		Debug:          *debug,
		IPWhitelist:    *ipWhitelist,
		Origin:         *origin,
		APIKey:         *apiKey,
		DataDir:        *dataDir,
	})

	// Wire proxy/fault-injection mode if -rules was given (§6 "POST
	// /admin/reload" needs a reloader in place before the server starts
	// accepting requests).
	if *rulesFile != "" {
		p, reload, snap, workers, err := buildPipeline(*rulesFile)
		if err != nil {
			logging.Error("failed to build rift pipeline", "error", err)
			os.Exit(1)
		}
		srv.SetReloader(p, reload)
		srv.SetRiftConfigInfo(handlers.RiftInfo{
			RulesPath:  *rulesFile,
			RuleCount:  len(snap.Rules),
			RouteCount: len(snap.Routes),
		})
		if workers > 1 {
			srv.SetWorkers(workers)
		}
		logging.Info("rift fault-injection pipeline ready", "rules", *rulesFile)
	}

	// Handle graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Give the server a moment to start
	time.Sleep(100 * time.Millisecond)

	// Load persisted imposters from datadir (if using filesystem repository)
	if *dataDir != "" {
		if err := srv.LoadPersistedImposters(); err != nil {
			logging.Warn("failed to load persisted imposters", "error", err)
		}
	}

	// Load config file if specified
	if *configFile != "" {
		logging.Info("loading config", "file", *configFile)
		cfg, err := config.LoadFile(*configFile, *noParse)
		if err != nil {
			logging.Error("failed to load config file", "error", err)
			os.Exit(1)
		}

		// Load imposters into server
		if err := srv.LoadImposters(cfg.Imposters); err != nil {
			logging.Error("failed to load imposters", "error", err)
			os.Exit(1)
		}
		logging.Info("loaded imposters from config file", "count", len(cfg.Imposters))
	}

	// Wait for shutdown signal
	<-done
	logging.Info("shutting down...")

	// Remove PID file
	if *pidFile != "" {
		os.Remove(*pidFile)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logging.Info("server stopped")
}

// buildPipeline loads a rift YAML rule config from path and assembles a
// ready-to-serve *pipeline.Pipeline plus the reload closure
// POST /admin/reload calls to rebuild it from disk (§6, §9 "compiled-tree
// sharing").
func buildPipeline(path string) (*pipeline.Pipeline, func() (*pipeline.Snapshot, error), *pipeline.Snapshot, int, error) {
	riftCfg, err := config.LoadRiftConfig(path)
	if err != nil {
		return nil, nil, nil, 0, err
	}

	store, err := riftCfg.BuildFlowStore()
	if err != nil {
		return nil, nil, nil, 0, fmt.Errorf("building flow store: %w", err)
	}
	pool := scriptpool.New(
		orDefault(riftCfg.ScriptPool.Workers, 4),
		orDefault(riftCfg.ScriptPool.QueueSize, 64),
		orDuration(riftCfg.ScriptPool.Timeout, 5*time.Second),
	)
	cache := decisioncache.New(
		orDefault(riftCfg.DecisionCache.MaxSize, 10000),
		orDuration(riftCfg.DecisionCache.TTL, time.Minute),
		riftCfg.DecisionCache.Enabled,
	)

	buildSnapshot := func(cfg *config.RiftConfig) (*pipeline.Snapshot, error) {
		rules, err := cfg.CompileRules()
		if err != nil {
			return nil, err
		}
		routes, err := cfg.CompileRoutes()
		if err != nil {
			return nil, err
		}
		return pipeline.BuildSnapshot(rules, routes), nil
	}

	snap, err := buildSnapshot(riftCfg)
	if err != nil {
		return nil, nil, nil, 0, err
	}

	d := decider.New(snap.Index, pool, store, cache, riftCfg.Recording.RngSeed)
	p := pipeline.New(snap, d, recording.NewStore())

	reload := func() (*pipeline.Snapshot, error) {
		cfg, err := config.LoadRiftConfig(path)
		if err != nil {
			return nil, err
		}
		s, err := buildSnapshot(cfg)
		if err != nil {
			return nil, err
		}
		d.SetIndex(s.Index)
		return s, nil
	}
	return p, reload, snap, riftCfg.Listen.Workers, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

// runVerify dry-runs a rift YAML rule config: load, compile every rule and
// route, and report success or the first ConfigInvalid/InvalidPattern error,
// without starting a server. Useful as a CI config-validation step.
func runVerify() {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)
	rulesFile := verifyFlags.String("rules", "", "path to the rift YAML rule config to verify")
	verifyFlags.Parse(os.Args[2:])

	if *rulesFile == "" {
		fmt.Fprintln(os.Stderr, "verify: -rules is required")
		os.Exit(2)
	}

	cfg, err := config.LoadRiftConfig(*rulesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	rules, err := cfg.CompileRules()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rule compilation failed: %v\n", err)
		os.Exit(1)
	}
	if _, err := cfg.CompileRoutes(); err != nil {
		fmt.Fprintf(os.Stderr, "route compilation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d rule(s) compiled successfully\n", *rulesFile, len(rules))
}

func runSave() {
	saveFlags := flag.NewFlagSet("save", flag.ExitOnError)
	port := saveFlags.Int("port", 2525, "the port mountebank is running on")
	host := saveFlags.String("host", "localhost", "the hostname mountebank is running on")
	saveFile := saveFlags.String("savefile", "mb.json", "file to save imposters to")
	removeProxies := saveFlags.Bool("removeProxies", false, "removes proxies from the configuration")
	formatterPath := saveFlags.String("formatter", "", "path to custom formatter (not implemented)")
	apiKey := saveFlags.String("apikey", "", "API key for authentication")

	saveFlags.Parse(os.Args[2:])

	// Formatter is a future enhancement
	if *formatterPath != "" {
		fmt.Fprintf(os.Stderr, "custom formatter specified: %s (not yet implemented)\n", *formatterPath)
	}

	// Get imposters from running server
	url := fmt.Sprintf("http://%s:%d/imposters?replayable=true", *host, *port)
	if *removeProxies {
		url += "&removeProxies=true"
	}

	client := &http.Client{}
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		cliFatalf("failed to create request: %v", err)
	}
	if *apiKey != "" {
		req.Header.Set("X-Api-Key", *apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		cliFatalf("failed to connect to mountebank: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		cliFatalf("failed to get imposters: %s", string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		cliFatalf("failed to read response: %v", err)
	}

	// Pretty print the JSON
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		cliFatalf("failed to parse response: %v", err)
	}

	prettyJSON, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		cliFatalf("failed to format JSON: %v", err)
	}

	// Write to file
	if err := os.WriteFile(*saveFile, prettyJSON, 0644); err != nil {
		cliFatalf("failed to write save file: %v", err)
	}

	fmt.Printf("saved imposters to %s\n", *saveFile)
}

func runReplay() {
	replayFlags := flag.NewFlagSet("replay", flag.ExitOnError)
	port := replayFlags.Int("port", 2525, "the port mountebank is running on")
	host := replayFlags.String("host", "localhost", "the hostname mountebank is running on")
	apiKey := replayFlags.String("apikey", "", "API key for authentication")

	replayFlags.Parse(os.Args[2:])

	// Get imposters with removeProxies
	getURL := fmt.Sprintf("http://%s:%d/imposters?replayable=true&removeProxies=true", *host, *port)
	client := &http.Client{}
	getReq, err := http.NewRequest("GET", getURL, nil)
	if err != nil {
		cliFatalf("failed to create request: %v", err)
	}
	if *apiKey != "" {
		getReq.Header.Set("X-Api-Key", *apiKey)
	}

	resp, err := client.Do(getReq)
	if err != nil {
		cliFatalf("failed to connect to mountebank: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		cliFatalf("failed to get imposters: %s", string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		cliFatalf("failed to read response: %v", err)
	}

	// PUT the imposters back (without proxies)
	putURL := fmt.Sprintf("http://%s:%d/imposters", *host, *port)
	putReq, err := http.NewRequest("PUT", putURL, bytes.NewReader(body))
	if err != nil {
		cliFatalf("failed to create request: %v", err)
	}
	putReq.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		putReq.Header.Set("X-Api-Key", *apiKey)
	}

	putResp, err := client.Do(putReq)
	if err != nil {
		cliFatalf("failed to PUT imposters: %v", err)
	}
	defer putResp.Body.Close()

	if putResp.StatusCode != 200 {
		respBody, _ := io.ReadAll(putResp.Body)
		cliFatalf("failed to replay imposters: %s", string(respBody))
	}

	fmt.Println("switched to replay mode (proxies removed)")
}

func runStop() {
	stopFlags := flag.NewFlagSet("stop", flag.ExitOnError)
	pidFile := stopFlags.String("pidfile", "mb.pid", "where the pid is stored")

	stopFlags.Parse(os.Args[2:])

	// Read PID from file
	data, err := os.ReadFile(*pidFile)
	if err != nil {
		// If pidfile doesn't exist, there's nothing to stop - exit successfully
		// This matches mountebank's behavior for compatibility with test harness
		if os.IsNotExist(err) {
			fmt.Println("no pidfile found, nothing to stop")
			os.Exit(0)
		}
		cliFatalf("failed to read pid file: %v", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		cliFatalf("invalid pid in file: %v", err)
	}

	// Send SIGTERM to process
	process, err := os.FindProcess(pid)
	if err != nil {
		cliFatalf("failed to find process: %v", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		// Process might already be dead, which is fine - exit successfully
		if err == os.ErrProcessDone {
			fmt.Printf("process %d already stopped\n", pid)
			os.Remove(*pidFile)
			os.Exit(0)
		}
		cliFatalf("failed to stop process: %v", err)
	}

	// Remove pidfile after successful stop
	os.Remove(*pidFile)
	fmt.Printf("stopped mountebank process %d\n", pid)
}

func setupLogging(level, file string, noFile bool) {
	out := io.Writer(os.Stdout)
	if !noFile && file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			out = io.MultiWriter(os.Stdout, f)
		}
	}
	logging.InitGlobal(logging.Config{Level: logging.Level(level), Format: logging.FormatText, Output: out})
}

// cliFatalf prints a message to stderr and exits 1, for the save/replay/stop
// one-shot commands: terminal-facing client output, not the running server's
// structured log stream.
func cliFatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
