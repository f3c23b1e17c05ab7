package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/opd-ai/peerlink"
	"github.com/opd-ai/peerlink/config"
	"github.com/opd-ai/peerlink/crypto"
	"github.com/opd-ai/peerlink/dht"
	"github.com/opd-ai/peerlink/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// CLIConfig holds the command-line flags. Empty values leave the loaded
// configuration untouched.
type CLIConfig struct {
	configPath  string
	peer        string
	key         string
	listen      string
	transport   string
	myIP        string
	name        string
	metricsAddr string
	logLevel    string
}

func parseCLIFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cli := &CLIConfig{}

	fs.StringVar(&cli.configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&cli.peer, "peer", "", "Hex public key of the remote party")
	fs.StringVar(&cli.key, "key", "", "Hex secret key (default: generate one)")
	fs.StringVar(&cli.listen, "listen", "", "Address of the shared data socket")
	fs.StringVar(&cli.transport, "transport", "", "Socket transport: udp or quic")
	fs.StringVar(&cli.myIP, "my-ip", "", "Local IP to never connect to")
	fs.StringVar(&cli.name, "name", "", "Name used in log entries")
	fs.StringVar(&cli.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&cli.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cli, nil
}

// applyFlags overrides cfg with every flag that was set.
func applyFlags(cfg *config.Config, cli *CLIConfig) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.PeerKey, cli.peer)
	set(&cfg.PrivateKey, cli.key)
	set(&cfg.Listen, cli.listen)
	set(&cfg.Transport, cli.transport)
	set(&cfg.MyIP, cli.myIP)
	set(&cfg.Name, cli.name)
	set(&cfg.MetricsAddr, cli.metricsAddr)
	set(&cfg.Log.Level, cli.logLevel)
}

func newSocket(cfg *config.Config) (transport.Socket, error) {
	switch cfg.Transport {
	case "udp":
		return transport.NewUDPSocket(cfg.Listen)
	case "quic":
		return transport.NewQUICSocket(cfg.Listen, cfg.QUICSocketConfig())
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// node is one running chat endpoint.
type node struct {
	keyPair   *crypto.KeyPair
	socket    transport.Socket
	discovery *dht.LANDiscovery
	channel   *peerlink.Channel
	metrics   *http.Server
}

func buildNode(cfg *config.Config) (_ *node, err error) {
	n := &node{}
	defer func() {
		if err != nil {
			_ = n.Close()
		}
	}()

	if n.keyPair, err = cfg.KeyPair(); err != nil {
		return nil, err
	}
	remote, err := cfg.PeerPublicKey()
	if err != nil {
		return nil, err
	}
	if n.socket, err = newSocket(cfg); err != nil {
		return nil, err
	}
	if n.discovery, err = dht.NewLANDiscovery(cfg.LANConfig()); err != nil {
		return nil, err
	}

	opts := peerlink.NewOptions()
	opts.KeyPair = n.keyPair
	opts.PublicKey = remote
	opts.Socket = n.socket
	opts.Discovery = n.discovery
	opts.MyIP = cfg.MyIP
	opts.Name = cfg.Name
	opts.Cipher = cfg.CipherSuite()
	opts.AnnounceInterval = cfg.AnnounceInterval
	opts.KeepAliveInterval = cfg.KeepAliveInterval

	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		if opts.Metrics, err = peerlink.NewMetrics("", registry); err != nil {
			return nil, err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		n.metrics = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if n.channel, err = peerlink.New(opts); err != nil {
		return nil, err
	}
	return n, nil
}

// syncWriter serialises writes from callbacks and the input loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

// run starts discovery, sends every input line and prints what arrives
// until ctx ends or reading input fails.
func (n *node) run(ctx context.Context, in io.Reader, out io.Writer) error {
	w := &syncWriter{w: out}

	n.channel.OnData(func(payload []byte) {
		w.printf("< %s\n", payload)
	})
	n.channel.OnConnected(func(addr string) {
		w.printf("* connected to %s\n", addr)
	})
	n.channel.OnWarn(func(warning peerlink.Warning) {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"addr":     warning.Addr,
			"bytes":    len(warning.Payload),
		}).Warn(warning.Message)
	})

	if n.metrics != nil {
		go func() {
			if err := n.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	if err := n.discovery.Start(); err != nil {
		return err
	}
	w.printf("* listening on %s as %s\n", n.socket.LocalAddr(), n.keyPair.PublicKeyHex())

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return err
			}
			// Input closed; keep receiving until ctx ends.
			readErr = nil
		case line := <-lines:
			if line == "" {
				continue
			}
			if err := n.channel.Send([]byte(line)); err != nil {
				logrus.WithError(err).Warn("Send failed")
			}
		}
	}
}

// Close destroys the channel, wipes the local secret key and releases the
// sockets the channel borrowed.
func (n *node) Close() error {
	if n.channel != nil {
		n.channel.Destroy()
	}
	n.keyPair.Wipe()
	var err error
	if n.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = multierr.Append(err, n.metrics.Shutdown(ctx))
		cancel()
	}
	if n.discovery != nil {
		err = multierr.Append(err, n.discovery.Close())
	}
	if n.socket != nil {
		err = multierr.Append(err, n.socket.Close())
	}
	return err
}

func main() {
	cli, err := parseCLIFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, cli)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}

	logs, err := config.SetupLogging(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()

	n, err := buildNode(cfg)
	if err != nil {
		logrus.WithError(err).Error("Failed to start")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := n.run(ctx, os.Stdin, os.Stdout)
	if err := n.Close(); err != nil {
		logrus.WithError(err).Warn("Shutdown errors")
	}
	if runErr != nil {
		logrus.WithError(runErr).Error("Stopped")
		os.Exit(1)
	}
}
