// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/carextract/cmd/bureau-car/cli"
	"github.com/bureau-foundation/carextract/lib/car"
	"github.com/bureau-foundation/carextract/lib/config"
	"github.com/bureau-foundation/carextract/lib/version"
)

// rootCommand builds the bureau-car command tree. Command output goes
// to stdout; logs and help go to stderr.
func rootCommand(stdout io.Writer) *cli.Command {
	var showVersion bool

	return &cli.Command{
		Name: "bureau-car",
		Description: `bureau-car: decode, verify, and extract CAR archives.

Reads CARv1 and CARv2 archives, optionally zstd or LZ4 compressed, and
reconstructs the UnixFS file tree they carry. Every block is checked
against its content identifier unless verification is disabled.`,
		Subcommands: []*cli.Command{
			extractCommand(stdout),
			inspectCommand(stdout),
			verifyCommand(stdout),
			rootsCommand(stdout),
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("bureau-car", pflag.ContinueOnError)
			flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
			return flagSet
		},
		Run: func(args []string) error {
			if showVersion {
				fmt.Fprintf(stdout, "bureau-car %s\n", version.Full())
				return nil
			}
			return fmt.Errorf("subcommand required\n\nRun 'bureau-car --help' for usage.")
		},
	}
}

// globalFlags are accepted by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func (g *globalFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "",
		"config file (default: $"+config.EnvironmentVariable+", else built-in defaults)")
	flagSet.StringVar(&g.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

// load resolves the configuration and builds the command logger. An
// explicit --config wins over the environment variable; with neither,
// built-in defaults apply.
func (g *globalFlags) load(command string) (*config.Config, *slog.Logger, error) {
	cfg := config.Default()
	var err error
	switch {
	case g.configPath != "":
		cfg, err = config.LoadFile(g.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cli.NewCommandLogger(cfg.LogLevel(), cfg.Logging.Format).With("command", command)
	return cfg, logger, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openArchive opens an archive for sequential reading. "-" reads
// stdin. The returned reader options carry the configured limits and,
// for regular files, the stream size.
func openArchive(path string, cfg *config.Config) (io.ReadCloser, []car.ReaderOption, error) {
	options := []car.ReaderOption{
		car.WithMaxFrameSize(cfg.Reader.MaxFrameSize),
		car.WithMaxHeaderSize(cfg.Reader.MaxHeaderSize),
	}
	if path == "-" {
		return io.NopCloser(os.Stdin), options, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if info, err := file.Stat(); err == nil && info.Mode().IsRegular() {
		options = append(options, car.WithStreamSize(info.Size()))
	}
	return file, options, nil
}

// requireArgs checks the positional argument count.
func requireArgs(args []string, minimum, maximum int, usage string) error {
	if len(args) < minimum || len(args) > maximum {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}
