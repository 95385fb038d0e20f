package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "phonecheck",
		Short:         "Hourly PBX greeting check over SIP",
		Long:          "phonecheck calls a phone number over SIP, listens to the greeting and alerts by SMS when it is wrong.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := configureLogging(opts.logLevel, opts.logJSON); err != nil {
				return err
			}
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.once, "once", false, "Run a single check and exit")
	flags.BoolVar(&opts.validate, "validate", false, "Validate configuration and exit")
	flags.StringVar(&opts.saveAudio, "save-audio", "", "Save captured audio to a WAV file")
	flags.Lookup("save-audio").NoOptDefVal = defaultAudioPath
	flags.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file, ignored when missing")
	flags.StringVar(&opts.pcap, "pcap", "", "Capture SIP and RTP traffic to a pcap file")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.logJSON, "log-json", false, "Log as JSON")

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, errCheckFailed) {
		logrus.WithError(err).Error("phonecheck failed")
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	stop()
	os.Exit(1)
}
