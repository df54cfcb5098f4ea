package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"vpnconnect/internal/agent"
	"vpnconnect/internal/api"
	"vpnconnect/internal/config"
	"vpnconnect/internal/logging"
	"vpnconnect/internal/metrics"
	"vpnconnect/internal/model"
	"vpnconnect/internal/stunutil"
)

const usage = `vpnconnect - client controller for a peer-to-peer VPN network

Usage:
  vpnconnect init --config <path> [--core <addr>] [--listen <addr>] [--data-dir <dir>] [--stun <list>]
  vpnconnect serve --config <path> [--listen <addr>] [--core <addr>]
  vpnconnect connect --config <path> --provider <id> [--service wireguard]
  vpnconnect proposals --config <path> [--type all|residential|non_residential] [--price free|low|medium|high]
                       [--quality low|medium|high] [--country <code>] [--refresh]
  vpnconnect favourites list|add|remove --config <path> [--provider <id>] [--service wireguard] [--key <key>]
  vpnconnect status --config <path>
  vpnconnect disconnect --config <path> [--stop]
  vpnconnect balance --config <path>
  vpnconnect dns get|set --config <path> [--value <dns>]
  vpnconnect nat --config <path> [--stun <list>]
  vpnconnect stats --config <path> [--window 24h] [--path <csv>]
  vpnconnect export csv --config <path> --out <file>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "init":
		handleInit(os.Args[2:])
	case "serve":
		handleServe(os.Args[2:])
	case "connect":
		handleConnect(os.Args[2:])
	case "proposals":
		handleProposals(os.Args[2:])
	case "favourites":
		handleFavourites(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "disconnect":
		handleDisconnect(os.Args[2:])
	case "balance":
		handleBalance(os.Args[2:])
	case "dns":
		handleDNS(os.Args[2:])
	case "nat":
		handleNAT(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "export":
		handleExport(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	coreAddr := fs.String("core", "", "core node address")
	nodeBinary := fs.String("node-binary", "", "core node binary to launch")
	listen := fs.String("listen", "", "listen address")
	dataDir := fs.String("data-dir", "", "data directory")
	usagePath := fs.String("usage-path", "", "usage CSV path")
	stunList := fs.String("stun", "", "comma-separated STUN servers")
	_ = fs.Parse(args)

	if *configPath == "" {
		fatal(errors.New("--config is required"))
	}
	cfg, err := loadConfig(*configPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fatal(err)
	}
	if cfg.Client == nil {
		cfg.Client = &config.ClientConfig{}
	}
	overrideConfig(&cfg, *coreAddr, *listen, *dataDir, *usagePath, *stunList)
	if *nodeBinary != "" {
		cfg.Core.NodeBinary = *nodeBinary
	}
	config.ApplyDefaults(&cfg)
	if cfg.Client.UsagePath == "" {
		cfg.Client.UsagePath = filepath.Join(cfg.Client.DataDir, "usage.csv")
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	if err := config.Save(*configPath, cfg); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", *configPath)
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	coreAddr := fs.String("core", "", "core node address")
	listen := fs.String("listen", "", "listen address")
	dataDir := fs.String("data-dir", "", "data directory")
	_ = fs.Parse(args)

	cfg := mustClientConfig(*configPath)
	overrideConfig(&cfg, *coreAddr, *listen, *dataDir, "", "")
	closeLog := setupLogging(cfg)
	defer closeLog()

	ctx, cancel := signalContext()
	defer cancel()
	if err := agent.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func handleConnect(args []string) {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	provider := fs.String("provider", "", "provider ID")
	service := fs.String("service", "", "service type")
	_ = fs.Parse(args)

	if *provider == "" {
		fatal(errors.New("--provider is required"))
	}
	cfg := mustClientConfig(*configPath)
	closeLog := setupLogging(cfg)
	defer closeLog()

	ctx, cancel := signalContext()
	defer cancel()
	err := agent.RunSession(ctx, cfg, agent.SessionOptions{
		ProviderID:  *provider,
		ServiceType: *service,
		OnState: func(s model.ConnectionState) {
			fmt.Fprintf(os.Stdout, "state=%s\n", s)
		},
		OnStatistic: func(s model.ConnectionStatistic) {
			fmt.Fprintf(os.Stdout, "duration=%s rx=%d tx=%d tokens=%.6f spent=%.4f\n",
				s.Duration, s.BytesReceived, s.BytesSent, s.TokensSpent, s.CurrencySpent)
		},
	})
	fatal(err)
}

func handleProposals(args []string) {
	fs := flag.NewFlagSet("proposals", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	nodeType := fs.String("type", "", "node type filter")
	price := fs.String("price", "", "price level filter")
	quality := fs.String("quality", "", "minimum quality filter")
	country := fs.String("country", "", "country code filter")
	refresh := fs.Bool("refresh", false, "refetch from the core node")
	_ = fs.Parse(args)

	client := controllerClient(*configPath)
	q := url.Values{}
	setIf(q, "type", *nodeType)
	setIf(q, "price", *price)
	setIf(q, "quality", *quality)
	setIf(q, "country", *country)
	if *refresh {
		q.Set("refresh", "true")
	}

	ctx, cancel := requestContext()
	defer cancel()
	view, err := client.Proposals(ctx, q)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "loaded_at=%s count=%d\n", view.LoadedAt.Format(time.RFC3339), len(view.Proposals))
	printProposals(os.Stdout, view.Proposals)
}

func handleFavourites(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "favourites subcommand required\n")
		os.Exit(2)
	}
	fs := flag.NewFlagSet("favourites "+args[0], flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	provider := fs.String("provider", "", "provider ID")
	service := fs.String("service", "", "service type")
	key := fs.String("key", "", "favourite key (provider ID + service type)")
	_ = fs.Parse(args[1:])

	client := controllerClient(*configPath)
	ctx, cancel := requestContext()
	defer cancel()

	switch args[0] {
	case "list":
		favourites, err := client.Favourites(ctx)
		if err != nil {
			fatal(err)
		}
		printProposals(os.Stdout, favourites)
	case "add":
		if *provider == "" {
			fatal(errors.New("--provider is required"))
		}
		p, err := client.AddFavourite(ctx, api.ProposalRef{ProviderID: *provider, ServiceType: *service})
		if err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "added %s\n", p.Key())
	case "remove":
		k := *key
		if k == "" && *provider != "" {
			svc := *service
			if svc == "" {
				svc = config.DefaultServiceType
			}
			k = *provider + svc
		}
		if k == "" {
			fatal(errors.New("--key or --provider is required"))
		}
		if err := client.RemoveFavourite(ctx, k); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "removed %s\n", k)
	default:
		fmt.Fprintf(os.Stderr, "unknown favourites subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	ctx, cancel := requestContext()
	defer cancel()
	view, err := controllerClient(*configPath).Connection(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "state=%s\n", view.State)
	if view.Identity != nil {
		fmt.Fprintf(os.Stdout, "identity=%s registration=%s\n", view.Identity.Address, view.Identity.RegistrationStatus)
	}
	if view.Proposal != nil {
		fmt.Fprintf(os.Stdout, "provider=%s service=%s country=%s price=%s\n",
			view.Proposal.ProviderID, view.Proposal.ServiceType, view.Proposal.Country, view.Proposal.PriceLevel)
	}
	s := view.Statistic
	fmt.Fprintf(os.Stdout, "duration=%s rx=%d tx=%d tokens=%.6f spent=%.4f\n",
		s.Duration, s.BytesReceived, s.BytesSent, s.TokensSpent, s.CurrencySpent)
}

func handleDisconnect(args []string) {
	fs := flag.NewFlagSet("disconnect", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	stop := fs.Bool("stop", false, "cancel a connect attempt in progress")
	_ = fs.Parse(args)

	client := controllerClient(*configPath)
	ctx, cancel := requestContext()
	defer cancel()
	if *stop {
		fatal(client.StopConnecting(ctx))
		return
	}
	fatal(client.Disconnect(ctx))
}

func handleBalance(args []string) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	ctx, cancel := requestContext()
	defer cancel()
	view, err := controllerClient(*configPath).Balance(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "address=%s balance=%.6f\n", view.Address, view.Balance)
}

func handleDNS(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "dns subcommand required\n")
		os.Exit(2)
	}
	fs := flag.NewFlagSet("dns "+args[0], flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	value := fs.String("value", "", "DNS option (auto, provider, system or an address)")
	_ = fs.Parse(args[1:])

	client := controllerClient(*configPath)
	ctx, cancel := requestContext()
	defer cancel()

	switch args[0] {
	case "get":
		dns, err := client.DNS(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Fprintln(os.Stdout, dns)
	case "set":
		fatal(client.SetDNS(ctx, *value))
	default:
		fmt.Fprintf(os.Stderr, "unknown dns subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func handleNAT(args []string) {
	fs := flag.NewFlagSet("nat", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	stunList := fs.String("stun", "", "comma-separated STUN servers")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	servers := splitList(*stunList)
	if len(servers) == 0 && cfg.Client != nil {
		servers = cfg.Client.STUNServers
	}
	if len(servers) == 0 {
		fatal(errors.New("STUN servers required"))
	}

	ctx, cancel := requestContext()
	defer cancel()
	addr, natType, err := stunutil.Probe(ctx, servers, 5*time.Second)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "public_addr=%s nat_type=%s nat_compatibility=%s\n", addr, natType, stunutil.Compatibility(natType))
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	window := fs.Duration("window", 24*time.Hour, "time window")
	path := fs.String("path", "", "usage CSV path override")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	usagePath := selectUsagePath(cfg, *path)
	if usagePath == "" {
		fatal(errors.New("usage path required"))
	}

	items, err := metrics.ReadCSV(usagePath)
	if err != nil {
		fatal(err)
	}

	cutoff := time.Now().UTC().Add(-*window)
	summary := metrics.Summarize(items, cutoff)
	if summary.Count == 0 {
		fmt.Fprintln(os.Stdout, "no samples in window")
		return
	}

	fmt.Fprintf(os.Stdout, "samples=%d sessions=%d from=%s to=%s\n", summary.Count, summary.Sessions, summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "rx=%d tx=%d tokens=%.6f spent=%.4f\n", summary.TotalReceived, summary.TotalSent, summary.TotalTokens, summary.TotalCurrency)
	fmt.Fprintf(os.Stdout, "session avg=%.0fs p95=%.0fs throughput avg=%.2f Mbps\n", summary.AvgSessionSec, summary.P95SessionSec, summary.AvgThroughputMbps)
}

func handleExport(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "export subcommand required\n")
		os.Exit(2)
	}
	if args[0] != "csv" {
		fmt.Fprintf(os.Stderr, "unknown export format %q\n", args[0])
		os.Exit(2)
	}

	fs := flag.NewFlagSet("export csv", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	out := fs.String("out", "", "output file")
	path := fs.String("path", "", "usage CSV path override")
	window := fs.Duration("window", 0, "only export samples newer than this (0 = all)")
	_ = fs.Parse(args[1:])

	if *out == "" {
		fatal(errors.New("--out is required"))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	usagePath := selectUsagePath(cfg, *path)
	if usagePath == "" {
		fatal(errors.New("usage path required"))
	}

	items, err := metrics.ReadCSV(usagePath)
	if err != nil {
		fatal(err)
	}
	if *window > 0 {
		cutoff := time.Now().UTC().Add(-*window)
		kept := items[:0]
		for _, s := range items {
			if !s.Timestamp.Before(cutoff) {
				kept = append(kept, s)
			}
		}
		items = kept
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		fatal(err)
	}
	file, err := os.Create(*out)
	if err != nil {
		fatal(err)
	}
	defer file.Close()
	if err := metrics.WriteCSV(file, items); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "exported %d samples to %s\n", len(items), *out)
}

func printProposals(w io.Writer, proposals []model.Proposal) {
	for _, p := range proposals {
		available := ""
		if !p.IsAvailable {
			available = " unavailable"
		}
		fmt.Fprintf(w, "%s %s country=%s type=%s price=%s quality=%s%s\n",
			p.ProviderID, p.ServiceType, p.Country, p.NodeType(), p.PriceLevel, p.QualityLevel(), available)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

func mustClientConfig(path string) config.Config {
	cfg, err := loadConfig(path)
	if err != nil {
		fatal(err)
	}
	if cfg.Client == nil {
		cfg.Client = &config.ClientConfig{}
	}
	config.ApplyDefaults(&cfg)
	return cfg
}

func overrideConfig(cfg *config.Config, coreAddr, listen, dataDir, usagePath, stunList string) {
	if cfg.Core == nil {
		cfg.Core = &config.CoreConfig{}
	}
	if cfg.Client == nil {
		cfg.Client = &config.ClientConfig{}
	}
	if coreAddr != "" {
		cfg.Core.Address = coreAddr
	}
	if listen != "" {
		cfg.Client.Listen = listen
	}
	if dataDir != "" {
		cfg.Client.DataDir = dataDir
	}
	if usagePath != "" {
		cfg.Client.UsagePath = usagePath
	}
	if stunList != "" {
		cfg.Client.STUNServers = splitList(stunList)
	}
}

func controllerClient(configPath string) *api.ControllerClient {
	cfg := mustClientConfig(configPath)
	return api.NewControllerClient(cfg.Client.Listen)
}

func selectUsagePath(cfg config.Config, override string) string {
	if override != "" {
		return override
	}
	if cfg.Client != nil {
		return cfg.Client.UsagePath
	}
	return ""
}

func setupLogging(cfg config.Config) func() {
	_, closer, err := logging.Setup(logging.Options{
		Service: "vpnconnect",
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
	})
	if err != nil {
		fatal(err)
	}
	return func() { _ = closer.Close() }
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
