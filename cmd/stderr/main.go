// stderr - error routing service
//
// stderr reads an error-routing document, resolves the reporters, renderers
// and routes it declares for one environment, and answers HTTP errors with
// them.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/armorclaw/stderr/pkg/app"
	"github.com/armorclaw/stderr/pkg/builtin"
	"github.com/armorclaw/stderr/pkg/config"
	errsys "github.com/armorclaw/stderr/pkg/errors"
	"github.com/armorclaw/stderr/pkg/eventbus"
	"github.com/armorclaw/stderr/pkg/logger"
	"github.com/armorclaw/stderr/pkg/plugin"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

type cliConfig struct {
	command     string
	configPath  string
	routingPath string
	environment string
	dir         string
	logLevel    string
	verbose     bool
	version     bool
	help        bool
}

func main() {
	cfg := parseFlags()

	if cfg.version || cfg.command == "version" {
		printVersion()
		return
	}
	if cfg.help || cfg.command == "" || cfg.command == "help" {
		printHelp()
		return
	}

	logger.Version = version
	out := newUI(os.Stdout)

	var err error
	switch cfg.command {
	case "init":
		err = runInit(out, cfg)
	case "validate":
		err = withApplication(cfg, func(a *app.Application) error { return runValidate(out, a) })
	case "routes":
		err = withApplication(cfg, func(a *app.Application) error { return runRoutes(out, a) })
	case "plugins":
		err = withApplication(cfg, func(a *app.Application) error { return runPlugins(out, a) })
	case "serve":
		var svc *config.Config
		var routing string
		svc, routing, err = loadServiceConfig(cfg)
		if err == nil {
			err = runServe(svc, routing, logger.Global().WithComponent("server"))
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cfg.command)
		printHelp()
		os.Exit(2)
	}

	if err != nil {
		if e, ok := err.(*errsys.Error); ok {
			fmt.Fprintln(os.Stderr, e.FormatSummary())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func parseFlags() cliConfig {
	cfg := cliConfig{}

	flag.StringVar(&cfg.configPath, "config", "", "Path to service configuration file (config.toml)")
	flag.StringVar(&cfg.routingPath, "routing", "", "Path to error-routing document (overrides config)")
	flag.StringVar(&cfg.environment, "env", "", "Environment to resolve (overrides config)")
	flag.StringVar(&cfg.dir, "dir", ".", "Target directory for 'init'")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose logging (sets log level to debug)")
	flag.BoolVar(&cfg.version, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.help, "help", false, "Show help message")

	flag.Parse()

	args := flag.Args()
	if len(args) > 0 {
		cfg.command = args[0]
	}

	if cfg.verbose {
		cfg.logLevel = "debug"
	}

	return cfg
}

// loadServiceConfig loads config.toml, applies flag overrides, sets up
// logging and returns the routing document path. A relative routing path in
// the file is taken relative to the file.
func loadServiceConfig(cli cliConfig) (*config.Config, string, error) {
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return nil, "", errsys.Wrap(errsys.CodeConfigurationInvalid, err)
	}
	if cli.logLevel != "" {
		cfg.Logging.Level = cli.logLevel
	}
	if cli.environment != "" {
		cfg.Application.Environment = cli.environment
	}
	setupLogging(cfg)

	routing := cfg.Application.File
	if cli.routingPath != "" {
		routing = cli.routingPath
	} else if cli.configPath != "" && !filepath.IsAbs(routing) {
		routing = filepath.Join(filepath.Dir(cli.configPath), routing)
	}
	return cfg, routing, nil
}

func setupLogging(cfg *config.Config) {
	if err := logger.Initialize(cfg.Logging.Level, cfg.Logging.Format, cfg.LogOutput()); err != nil {
		log.Printf("Warning: Failed to initialize structured logger: %v", err)
		log.Printf("Falling back to standard logging")
	}
}

func withApplication(cli cliConfig, fn func(*app.Application) error) error {
	cfg, routing, err := loadServiceConfig(cli)
	if err != nil {
		return err
	}
	bus := eventbus.New(eventbus.DefaultConfig(), logger.Global())
	defer bus.Close()

	a, err := app.Load(routing, cfg.Application.Environment,
		app.WithLogger(logger.Global()),
		app.WithResolver(newResolver(logger.Global(), bus)),
	)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func runInit(out *ui, cli cliConfig) error {
	created, err := scaffold(cli.dir)
	for _, p := range created {
		out.OK("created %s", p)
	}
	if err != nil {
		return err
	}
	if len(created) == 0 {
		out.Note("nothing to do; all files already exist in %s", cli.dir)
		return nil
	}
	out.Note("next: stderr -config %s validate", filepath.Join(cli.dir, "config.toml"))
	return nil
}

func runValidate(out *ui, a *app.Application) error {
	out.Title("Configuration OK")
	out.OK("environment   %s", a.Environment())
	out.OK("display       %t", a.DisplayErrors())
	out.OK("content type  %s", a.DefaultContentType())
	out.OK("reporters     %d", len(a.Reporters()))
	out.OK("renderers     %d", len(a.Renderers()))
	out.OK("routes        %d", a.Routes().Len())
	return nil
}

func runRoutes(out *ui, a *app.Application) error {
	table := a.Routes()
	rows := make([][]string, 0, table.Len())

	def := table.Default()
	rows = append(rows, []string{"(default)", def.Controller, def.View, strconv.Itoa(def.HTTPStatus), def.ContentType, def.ErrorType.String()})
	for _, class := range table.Classes() {
		r, _ := table.Lookup(class)
		rows = append(rows, []string{class, r.Controller, r.View, strconv.Itoa(r.HTTPStatus), r.ContentType, r.ErrorType.String()})
	}

	out.Table([]string{"CLASS", "CONTROLLER", "VIEW", "STATUS", "CONTENT TYPE", "TYPE"}, rows)
	return nil
}

func runPlugins(out *ui, a *app.Application) error {
	dirs := map[plugin.Capability]string{
		plugin.CapabilityController: a.ControllersPath(),
		plugin.CapabilityReporter:   a.ReportersPath(),
		plugin.CapabilityRenderer:   a.RenderersPath(),
	}

	rows := make([][]string, 0)
	for _, p := range builtin.Plugins() {
		unit := plugin.SourcePath(dirs[p.Capability], p.Class)
		state := "missing"
		if _, err := os.Stat(unit); err == nil {
			state = "ok"
		}
		rows = append(rows, []string{p.Class, string(p.Capability), p.ContentType, unit, state})
	}

	out.Table([]string{"CLASS", "CAPABILITY", "CONTENT TYPE", "UNIT", "STATE"}, rows)
	return nil
}

func printVersion() {
	fmt.Printf("stderr v%s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
}

func printHelp() {
	helpText := `USAGE:
    stderr [flags] <command>

COMMANDS:
    init        Write a sample config, routing document, views and plugin units
    validate    Load the routing document and report what resolved
    routes      List exception routes
    plugins     List built-in plugins and their source units
    serve       Start the HTTP server
    version     Show version information
    help        Show this help message

FLAGS:
    -config string    Path to config.toml (default: search ~/.stderr, /etc/stderr, .)
    -routing string   Path to the error-routing document (overrides config)
    -env string       Environment to resolve (overrides config)
    -dir string       Target directory for init (default ".")
    -log-level string Log level: debug, info, warn, error
    -v                Verbose logging
    -version          Print version and exit

EXAMPLES:
    stderr -dir ./site init
    stderr -config ./site/config.toml validate
    stderr -config ./site/config.toml -env live routes
    stderr -config ./site/config.toml serve
`
	fmt.Print(helpText)
}
