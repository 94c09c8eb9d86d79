// otlpflow runs a standalone OTLP/HTTP receiver. Every accepted batch is
// summarized on stdout and, when a forward system is configured, relayed to
// the matching sink.
//
// Settings come from OTLPFLOW_* environment variables; flags override them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/drblury/otlpflow"
	_ "github.com/drblury/otlpflow/sink/sinks"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	conf, err := otlpflow.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	var logLevel string
	flagSet := pflag.NewFlagSet("otlpflow", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&conf.Host, "host", conf.Host, "bind address of the OTLP/HTTP listener")
	flagSet.IntVarP(&conf.Port, "port", "p", conf.Port, "listener port (0 picks a free port)")
	flagSet.Int64Var(&conf.MaxRequestSize, "max-request-size", conf.MaxRequestSize, "maximum raw request body in bytes")
	flagSet.Int64Var(&conf.MaxDecompressedSize, "max-decompressed-size", conf.MaxDecompressedSize, "maximum inflated body in bytes (0 for unlimited)")
	flagSet.BoolVar(&conf.EnableCompression, "enable-compression", conf.EnableCompression, "gzip responses for clients that accept it")
	flagSet.DurationVar(&conf.ShutdownTimeout, "shutdown-timeout", conf.ShutdownTimeout, "how long to wait for in-flight requests on shutdown")
	flagSet.BoolVar(&conf.MetricsEnabled, "metrics", conf.MetricsEnabled, "serve Prometheus metrics on "+otlpflow.MetricsPath)
	flagSet.BoolVar(&conf.StatsEnabled, "stats", conf.StatsEnabled, "serve per-signal stats on "+otlpflow.StatsPath)
	flagSet.StringVar(&conf.ForwardSystem, "forward", conf.ForwardSystem, "sink accepted batches are relayed to (empty disables forwarding)")
	flagSet.StringVar(&conf.ForwardEncoding, "forward-encoding", conf.ForwardEncoding, "payload encoding of forwarded messages: protobuf or json")
	flagSet.StringVar(&conf.ForwardTopicPrefix, "forward-topic-prefix", conf.ForwardTopicPrefix, "prefix of the per-signal forwarding topics")
	flagSet.StringSliceVar(&conf.KafkaBrokers, "kafka-brokers", conf.KafkaBrokers, "kafka bootstrap brokers")
	flagSet.StringVar(&conf.NATSURL, "nats-url", conf.NATSURL, "NATS server URL")
	flagSet.StringVar(&conf.RabbitMQURL, "rabbitmq-url", conf.RabbitMQURL, "RabbitMQ URL")
	flagSet.StringVar(&conf.HTTPPublisherURL, "http-url", conf.HTTPPublisherURL, "base URL of the HTTP forwarding target")
	flagSet.StringVar(&conf.ForwardFile, "forward-file", conf.ForwardFile, "JSON-lines file written by the file sink")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}

	logger := otlpflow.NewJSONServiceLogger(stderr, otlpflow.ParseLogLevel(logLevel))

	srv, err := otlpflow.NewServer(conf, logger)
	if err != nil {
		return err
	}

	// Subscribe before the listener opens so the first batch is not missed.
	var consumers sync.WaitGroup
	drain := context.WithoutCancel(ctx)
	consume(drain, &consumers, srv.Traces(), stdout, otlpflow.SummarizeTraces)
	consume(drain, &consumers, srv.Metrics(), stdout, otlpflow.SummarizeMetrics)
	consume(drain, &consumers, srv.Logs(), stdout, otlpflow.SummarizeLogs)

	var forwarding *otlpflow.Forwarding
	if conf.ForwardSystem != "" {
		forwarding, err = otlpflow.StartForwarding(drain, srv, nil, logger)
		if err != nil {
			_ = srv.Stop(drain)
			consumers.Wait()
			return err
		}
	}

	if err := srv.Start(ctx); err != nil {
		_ = srv.Stop(drain)
		consumers.Wait()
		if forwarding != nil {
			_ = forwarding.Close(drain)
		}
		return err
	}
	fmt.Fprintln(stdout, "OTLP server started")
	fmt.Fprintf(stdout, "Traces endpoint: %s\n", srv.TracesURL())
	fmt.Fprintf(stdout, "Metrics endpoint: %s\n", srv.MetricsURL())
	fmt.Fprintf(stdout, "Logs endpoint: %s\n", srv.LogsURL())

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(drain, conf.ShutdownTimeout)
	defer cancel()
	stopErr := srv.Stop(stopCtx)
	consumers.Wait()

	if forwarding != nil {
		closeCtx, cancelClose := context.WithTimeout(drain, 5*time.Second)
		defer cancelClose()
		stopErr = errors.Join(stopErr, forwarding.Close(closeCtx))
	}
	return stopErr
}

// consume prints one line per batch until the server finishes the
// subscription on Stop.
func consume[T any](ctx context.Context, wg *sync.WaitGroup, sub *otlpflow.Subscription[T], out io.Writer, summarize func(T) otlpflow.Summary) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for batch := range sub.All(ctx) {
			s := summarize(batch)
			fmt.Fprintf(out, "Received %s batch: %d resources, %d scopes, %d items\n",
				s.Kind, s.ResourceGroups, s.ScopeGroups, s.Items)
		}
	}()
}
