package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

type cliConfig struct {
	mode     string // "send" or "recv"
	addr     string // dial address (send) or listen address (recv)
	file     string
	logLevel string
	chunkSize uint

	relayTo []string // additional destination addrs, fanned out via internal/relay

	hookScripts  []string // event_type=script_path pairs
	hookWebhooks []string // event_type=webhook_url pairs
	hookStdio    string   // "json", "env", or "" (disabled)

	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("dropgate-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	var relayTo stringSliceFlag
	var hookScripts stringSliceFlag
	var hookWebhooks stringSliceFlag

	fs.StringVar(&cfg.mode, "mode", "", "send|recv")
	fs.StringVar(&cfg.addr, "addr", "", "dial address (send) or listen address (recv)")
	fs.StringVar(&cfg.file, "file", "", "path to the file to send, or the destination path to write on recv")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "debug|info|warn|error")
	fs.UintVar(&cfg.chunkSize, "chunk-size", 65536, "outbound chunk size in bytes")
	fs.Var(&relayTo, "relay-to", "additional destination address for fan-out send (can be specified multiple times)")
	fs.Var(&hookScripts, "hook-script", "hook script in format event_type=script_path")
	fs.Var(&hookWebhooks, "hook-webhook", "hook webhook in format event_type=webhook_url")
	fs.StringVar(&cfg.hookStdio, "hook-stdio-format", "", "json|env, empty disables")
	fs.BoolVar(&cfg.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.relayTo = relayTo
	cfg.hookScripts = hookScripts
	cfg.hookWebhooks = hookWebhooks

	if cfg.showVersion {
		return cfg, nil
	}

	switch cfg.mode {
	case "send", "recv":
	default:
		return nil, fmt.Errorf("invalid -mode %q, must be send or recv", cfg.mode)
	}
	if cfg.addr == "" {
		return nil, errors.New("-addr is required")
	}
	if cfg.file == "" {
		return nil, errors.New("-file is required")
	}
	if cfg.chunkSize == 0 || cfg.chunkSize > 1<<20 {
		return nil, errors.New("-chunk-size must be between 1 and 1048576")
	}
	switch cfg.hookStdio {
	case "", "json", "env":
	default:
		return nil, fmt.Errorf("invalid -hook-stdio-format %q", cfg.hookStdio)
	}
	for _, a := range cfg.hookScripts {
		if err := validateHookAssignment("hook-script", a); err != nil {
			return nil, err
		}
	}
	for _, a := range cfg.hookWebhooks {
		if err := validateHookAssignment("hook-webhook", a); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func validateHookAssignment(flagName, assignment string) error {
	parts := strings.SplitN(assignment, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid %s format %q, expected event_type=value", flagName, assignment)
	}
	return nil
}

type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ", ") }
func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}
