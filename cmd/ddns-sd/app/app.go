// SPDX-License-Identifier: Apache-2.0

// Package app wires the ddns-sd agent together: configuration, logging,
// the metrics server, backend construction, the startup reconcile pass
// and the event processor loop, as a single cobra.Command built from
// small Options structs.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/privatedns/armprivatedns"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	dockerclient "github.com/docker/docker/client"
	_ "github.com/go-sql-driver/mysql"
	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/discourse/ddns-sd/pkg/backend"
	"github.com/discourse/ddns-sd/pkg/backend/azuredns"
	"github.com/discourse/ddns-sd/pkg/backend/logonly"
	route53backend "github.com/discourse/ddns-sd/pkg/backend/route53"
	"github.com/discourse/ddns-sd/pkg/backend/sqlrow"
	"github.com/discourse/ddns-sd/pkg/config"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
	"github.com/discourse/ddns-sd/pkg/dockerwatch"
	"github.com/discourse/ddns-sd/pkg/events"
	"github.com/discourse/ddns-sd/pkg/logging"
	"github.com/discourse/ddns-sd/pkg/metrics"
	"github.com/discourse/ddns-sd/pkg/reconcile"
	"github.com/discourse/ddns-sd/pkg/synth"
)

// Revision is set at build time (-ldflags); empty when built without
// it.
var Revision string

// gracePeriod bounds how long the graceful-withdraw phase on TERM is
// allowed to run before teardown proceeds regardless.
const gracePeriod = 10 * time.Second

// NewCommand returns the ddns-sd root command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ddns-sd",
		Short: "Publishes DNS-SD records for running containers on this host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	opts, err := config.FromEnviron()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(opts.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := logging.New(level)
	installVerbositySignals(log)

	metrics.StartTimestamp.WithLabelValues(Revision).SetToCurrentTime()

	// TERM = graceful withdraw, HUP = restart without withdraw. Both
	// cancel runCtx, which everything below listens on; termSig tells us
	// afterwards which one actually arrived.
	termSig := make(chan os.Signal, 1)
	signal.Notify(termSig, syscall.SIGTERM, syscall.SIGHUP)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	var received syscall.Signal
	go func() {
		s := <-termSig
		if sig, ok := s.(syscall.Signal); ok {
			received = sig
		}
		cancelRun()
	}()

	b, closeBackend, err := buildBackend(ctx, log.Logger, opts)
	if err != nil {
		return fmt.Errorf("constructing backend: %w", err)
	}
	defer closeBackend()

	if opts.EnableMetrics {
		srv := metrics.NewServer(":9218")
		go func() {
			if err := srv.ListenAndServe(runCtx); err != nil {
				log.Error(err, "metrics server exited")
			}
		}()
	}

	dockerAPI, err := dockerclient.NewClientWithOpts(dockerclient.WithHost(opts.DockerHost), dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("constructing docker client: %w", err)
	}
	defer dockerAPI.Close()
	watcher := dockerwatch.New(log.Logger, dockerAPI)

	synthOpts := synth.Options{
		Host:          opts.Hostname,
		Zone:          dnsrecord.Name(opts.BaseDomain),
		TTL:           opts.RecordTTL,
		IPv6Only:      opts.IPv6Only,
		DefaultHostIP: opts.HostIPAddress,
	}

	running, err := watcher.ListRunning(runCtx)
	if err != nil {
		return fmt.Errorf("listing running containers for startup reconcile: %w", err)
	}
	if _, err := reconcile.Reconcile(runCtx, log.Logger, b, synthOpts, running); err != nil {
		log.Error(err, "startup reconcile failed")
	}

	processor := events.New(log.Logger, b, synthOpts)
	runErr := make(chan error, 1)
	go func() { runErr <- processor.Run(runCtx, watcher) }()

	<-runCtx.Done()
	<-runErr

	if received == syscall.SIGTERM {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
		defer cancel()
		processor.Shutdown(shutdownCtx, true)
	}
	return nil
}

func buildBackend(ctx context.Context, log logr.Logger, opts config.Options) (backend.Backend, func(), error) {
	noop := func() {}
	switch opts.Backend {
	case config.BackendLogOnly:
		return logonly.New(log), noop, nil

	case config.BackendRoute53:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Route53.Region))
		if err != nil {
			return nil, noop, err
		}
		client := route53.NewFromConfig(awsCfg)
		return route53backend.New(client, opts.Route53.HostedZoneID), noop, nil

	case config.BackendAzureDNS:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, noop, err
		}
		client, err := armprivatedns.NewRecordSetsClient(opts.AzureDNS.SubscriptionID, cred, nil)
		if err != nil {
			return nil, noop, err
		}
		return azuredns.New(client, opts.AzureDNS.ResourceGroup, opts.AzureDNS.ZoneName), noop, nil

	case config.BackendSQLRow:
		db, err := sqlx.Open("mysql", opts.SQLRow.DSN)
		if err != nil {
			return nil, noop, err
		}
		if _, err := db.ExecContext(ctx, sqlrow.Schema); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return sqlrow.New(db), func() { _ = db.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unrecognized backend %q", opts.Backend)
	}
}

// installVerbositySignals wires USR1/USR2 to raise/lower the log level,
// bounded at ERROR/DEBUG by *logging.Logger itself.
func installVerbositySignals(log *logging.Logger) {
	raise := make(chan os.Signal, 1)
	lower := make(chan os.Signal, 1)
	signal.Notify(raise, syscall.SIGUSR1)
	signal.Notify(lower, syscall.SIGUSR2)
	go func() {
		for {
			select {
			case <-raise:
				log.Raise()
			case <-lower:
				log.Lower()
			}
		}
	}()
}
