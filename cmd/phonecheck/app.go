package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/opd-ai/phonecheck/capture"
	"github.com/opd-ai/phonecheck/checker"
	"github.com/opd-ai/phonecheck/config"
	"github.com/opd-ai/phonecheck/factory"
	"github.com/opd-ai/phonecheck/health"
	"github.com/opd-ai/phonecheck/interfaces"
	"github.com/opd-ai/phonecheck/lockfile"
	"github.com/opd-ai/phonecheck/redact"
	"github.com/opd-ai/phonecheck/scheduler"
	"github.com/opd-ai/phonecheck/sip"
	"github.com/opd-ai/phonecheck/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultAudioPath = "captured_audio.wav"

// errCheckFailed is returned by a --once run whose check did not pass. The
// alert has already been logged, so main only sets the exit status.
var errCheckFailed = errors.New("check failed")

type options struct {
	once       bool
	validate   bool
	saveAudio  string
	configFile string
	envFile    string
	pcap       string
	logLevel   string
	logJSON    bool
}

func configureLogging(level string, json bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	if json {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	cfg, err := config.Load(config.Options{ConfigFile: opts.configFile, EnvFile: opts.envFile})
	if err != nil {
		return err
	}
	if opts.pcap != "" {
		cfg.PcapFile = opts.pcap
	}

	logrus.WithFields(logrus.Fields{
		"function":        "run",
		"target":          redact.PhoneNumber(cfg.TargetPhone),
		"sip_server":      net.JoinHostPort(cfg.SIPServer, fmt.Sprint(cfg.SIPPort)),
		"expected_phrase": cfg.ExpectedPhrase,
		"listen_secs":     cfg.ListenDurationSecs,
		"version":         version,
	}).Info("Configuration loaded")

	if opts.validate {
		return validate(ctx, cfg, out)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lock, err := lockfile.Acquire(cfg.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	return serve(ctx, cfg, opts)
}

// validate prints the redacted configuration and checks that the SIP
// server resolves.
func validate(ctx context.Context, cfg *config.Config, out io.Writer) error {
	rendered, err := cfg.RedactedYAML()
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	if _, err := out.Write(rendered); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ips, err := net.DefaultResolver.LookupIP(lookupCtx, "ip4", cfg.SIPServer)
	if err != nil {
		return fmt.Errorf("%w: sip_server %s does not resolve: %w", config.ErrInvalid, cfg.SIPServer, err)
	}

	addrs := make([]string, len(ips))
	for i, ip := range ips {
		addrs[i] = ip.String()
	}
	fmt.Fprintf(out, "# sip_server resolves to %s\n# configuration is valid\n", strings.Join(addrs, ", "))
	return nil
}

// newPlacerFunc builds a fresh SIP client for every attempt. tap may be nil.
func newPlacerFunc(client sip.ClientConfig, tap transport.PacketTap) checker.PlacerFunc {
	return func(ctx context.Context) (interfaces.ICallPlacer, error) {
		c, err := sip.NewClient(ctx, client)
		if err != nil {
			return nil, err
		}
		if tap != nil {
			c.SetPacketTap(tap)
		}
		return c, nil
	}
}

func buildChecker(cfg *config.Config, opts *options, metrics *health.Metrics, tap transport.PacketTap) (*checker.Checker, error) {
	collaborators := cfg.CollaboratorConfig()
	f := factory.NewCollaboratorFactory(&collaborators)

	transcriber, err := f.CreateTranscriber()
	if err != nil {
		return nil, err
	}

	return checker.New(checker.Config{
		ExpectedPhrase: cfg.ExpectedPhrase,
		SaveAudioPath:  opts.saveAudio,
		Target:         cfg.TargetPhone,
		Normalize:      true,
	}, newPlacerFunc(cfg.ClientConfig(), tap), transcriber, f.CreateMatcher(), f.CreateAlerter(), metrics)
}

// serve runs the health server next to either a single check or the
// hourly scheduler, and stops both when either finishes or ctx is done.
func serve(ctx context.Context, cfg *config.Config, opts *options) error {
	var tap transport.PacketTap
	if cfg.PcapFile != "" {
		w, err := capture.Create(cfg.PcapFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close pcap file")
			}
			logrus.WithFields(logrus.Fields{
				"function": "serve",
				"file":     cfg.PcapFile,
				"packets":  w.Packets(),
			}).Info("Packet capture closed")
		}()
		tap = w
	}

	metrics := health.NewMetrics()
	chk, err := buildChecker(cfg, opts, metrics, tap)
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if !opts.once {
		schedCfg, err := cfg.SchedulerConfig()
		if err != nil {
			return err
		}
		sched, err = scheduler.New(schedCfg, func(ctx context.Context) {
			chk.Run(ctx)
		})
		if err != nil {
			return err
		}
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.HealthAddr(); addr != "" {
		srv := health.NewServer(addr, metrics)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	var outcome *checker.Outcome
	g.Go(func() error {
		defer stop()
		if opts.once {
			logrus.WithField("function", "serve").Info("Running single check (--once mode)")
			outcome = chk.Run(gctx)
			return nil
		}
		return sched.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if outcome != nil && outcome.Status == checker.StatusFailed {
		return errCheckFailed
	}
	return nil
}
