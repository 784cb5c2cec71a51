// Command conductor runs the conversational orchestrator behind an
// OpenAI-compatible HTTP front-end.
//
// Usage:
//
//	conductor serve --config conductor.yaml
//	conductor serve                      (zero-config, in-memory backends)
//	conductor validate --config conductor.yaml
//	conductor cleanup-messages --config conductor.yaml <conversation-id>
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version         VersionCmd  `cmd:"" help:"Show version information."`
	Serve           ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Validate        ValidateCmd `cmd:"" help:"Validate the configuration file."`
	CleanupMessages CleanupCmd  `cmd:"" name:"cleanup-messages" help:"Deduplicate a conversation's cached messages."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or json)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("conductor version %s\n", version)
	return nil
}

// ValidateCmd checks the configuration without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration OK (server %s:%d, vector %s, embedder %s)\n",
		cfg.Server.Host, cfg.Server.Port, cfg.Vector.Type, cfg.Embedder.Type)
	return nil
}

func initLogging(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = closeFile
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("conductor"),
		kong.Description("Conversational AI orchestrator with a three-tier router."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogging(&cli)
	ctx.FatalIfErrorf(err)
	defer cleanup()

	ctx.FatalIfErrorf(ctx.Run(&cli))
}
