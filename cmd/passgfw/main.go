/*
Package main is the entry point for the passgfw command-line application.

passgfw finds a working, genuine server from a list of candidate endpoints on a network that may
block, spoof or tamper with some of them. Its subcommands cover both sides of the protocol:
  - find: run discovery and print the domain the first verified server asserts.
  - serve: run the reference responder that answers challenges and hosts endpoint lists.
  - keygen: create the RSA key pair shared by responders and clients.
  - parse-list, make-list, domain: inspect and build list documents and endpoint URLs.

Configuration comes from a YAML file (see internal/config) with flags taking precedence.
SIGINT and SIGTERM cancel the running command's context, which stops discovery or shuts the
responder down gracefully.
*/
package main

/*
passgfw — verified endpoint discovery for filtered networks
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/x-stp/passgfw/internal/client"
	"github.com/x-stp/passgfw/internal/config"
	"github.com/x-stp/passgfw/internal/core"
	"github.com/x-stp/passgfw/internal/crypto"
	"github.com/x-stp/passgfw/internal/metrics"
	"github.com/x-stp/passgfw/internal/server"
	"github.com/x-stp/passgfw/pkg/passgfw"
)

// Global flags (persistent across commands)
var (
	configPath  string
	debug       bool
	metricsAddr string
)

// Flags specific to the find command
var (
	clientData    string
	findEndpoints []string
	findTimeout   time.Duration
)

// Flags specific to the serve command
var (
	serveAddr       string
	serveDomain     string
	servePrivateKey string
	serveRoutes     []string
	serveList       []string
	serveAccessLog  bool
)

// Flags specific to other commands
var (
	parseHTML  bool
	keygenBits int
	keygenOut  string
)

// Loaded by the root command before any subcommand runs.
var (
	cfg    *config.Config
	logger *levelLogger
)

var rootCmd = &cobra.Command{
	Use:           "passgfw",
	Short:         "passgfw - verified endpoint discovery for filtered networks",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLevelLogger(os.Stderr, debug)

		var (
			path string
			err  error
		)
		if configPath != "" {
			cfg, path, err = config.LoadFromPath(configPath)
		} else {
			cfg, path, err = config.Load()
		}
		if err != nil {
			return err
		}
		if path != "" {
			logger.Printf("[debug] using config %s", path)
		}

		addr := metricsAddr
		if addr == "" {
			addr = cfg.Metrics.Addr
		}
		if addr != "" {
			metrics.EnableMetrics()
			metrics.GetMetrics()
			if err := metrics.StartMetricsServer(addr); err != nil {
				log.Printf("Failed to start metrics server: %v", err)
			}
		}
		return nil
	},
}

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Search the endpoint set until one server verifies and print its domain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		if findTimeout > 0 {
			var timeoutCancel context.CancelFunc
			ctx, timeoutCancel = context.WithTimeout(ctx, findTimeout)
			defer timeoutCancel()
		}

		domain, err := findServer(ctx, cfg, findEndpoints, clientData)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), domain)
		return nil
	},
}

var parseListCmd = &cobra.Command{
	Use:   "parse-list FILE|-",
	Short: "Print the endpoint URLs contained in a list document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		urls, err := parseListFile(args[0], cmd.InOrStdin(), parseHTML)
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			return errors.New("no endpoints found in list")
		}
		for _, u := range urls {
			fmt.Fprintln(cmd.OutOrStdout(), u)
		}
		return nil
	},
}

var makeListCmd = &cobra.Command{
	Use:   "make-list URL...",
	Short: "Render URLs as a list document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, u := range args {
			if _, err := core.ExtractDomain(u); err != nil {
				return err
			}
			if strings.ContainsAny(u, core.ListSeparator+"*") {
				return fmt.Errorf("URL %q contains a list delimiter", u)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), core.FormatList(args))
		return nil
	},
}

var domainCmd = &cobra.Command{
	Use:   "domain URL",
	Short: "Print the host[:port] part of an endpoint URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, err := core.ExtractDomain(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), domain)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference responder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return serve(ctx, cmd)
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an RSA key pair for responders and clients",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		priv, pub, err := writeKeyPair(keygenBits, keygenOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\npublic key:  %s\n", priv, pub)
		return nil
	},
}

func init() {
	// Persistent flags (available for all commands)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: search $"+config.EnvConfigPath+", ./"+config.ConfigFileName+", ~/.config/passgfw/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	findCmd.Flags().StringVar(&clientData, "client-data", "", "Opaque data sent to the server inside the encrypted payload")
	findCmd.Flags().StringSliceVar(&findEndpoints, "endpoint", nil, "Endpoint URL to check instead of the configured set (repeatable; suffix # for lists)")
	findCmd.Flags().DurationVar(&findTimeout, "timeout", 0, "Give up after this long (0 waits forever)")

	parseListCmd.Flags().BoolVar(&parseHTML, "html", false, "Treat the input as HTML (implied for .html/.htm files)")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().StringVar(&serveDomain, "domain", "", "Domain asserted to clients (default: request Host)")
	serveCmd.Flags().StringVar(&servePrivateKey, "private-key", "", "PEM private key file")
	serveCmd.Flags().StringSliceVar(&serveRoutes, "route", nil, "client_data=domain routing rule (repeatable)")
	serveCmd.Flags().StringSliceVar(&serveList, "list", nil, "URL served in the /list document (repeatable)")
	serveCmd.Flags().BoolVar(&serveAccessLog, "access-log", false, "Log every request")

	keygenCmd.Flags().IntVar(&keygenBits, "bits", 3072, "RSA key size in bits")
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", ".", "Output directory for private.pem and public.pem")

	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(parseListCmd)
	rootCmd.AddCommand(makeListCmd)
	rootCmd.AddCommand(domainCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
}

func main() {
	err := rootCmd.Execute()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metrics.ShutdownMetricsServer(shutdownCtx)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signalChan:
			log.Println("Interrupt received, initiating graceful shutdown...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signalChan)
	}()

	return ctx, cancel
}

// findServer runs discovery through the embedding API over the shared HTTP client.
func findServer(ctx context.Context, cfg *config.Config, endpoints []string, clientData string) (string, error) {
	httpConfig := cfg.HTTPClientConfig()
	transport := client.NewHTTPTransport(client.ConfigureHTTPClient(httpConfig), httpConfig)

	opts := []passgfw.Option{
		passgfw.WithConfig(cfg),
		passgfw.WithLogger(logger),
		passgfw.WithTransport(transport),
	}
	if len(endpoints) > 0 {
		opts = append(opts, passgfw.WithEndpoints(endpoints...))
	}
	h, err := passgfw.Create(opts...)
	if err != nil {
		return "", err
	}
	defer passgfw.Destroy(h)

	domain, err := passgfw.GetFinalServerContext(ctx, h, clientData)
	if err != nil {
		if last, _ := passgfw.GetLastError(h); last != "" {
			return "", fmt.Errorf("%w (last error: %s)", err, last)
		}
		return "", err
	}
	return domain, nil
}

// parseListFile reads a list document from path ("-" for stdin) and parses it.
func parseListFile(path string, stdin io.Reader, html bool) ([]string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open list: %w", err)
		}
		defer f.Close()
		r = f
		switch strings.ToLower(filepath.Ext(path)) {
		case ".html", ".htm":
			html = true
		}
	}

	if html {
		text, err := core.ExtractListText(r)
		if err != nil {
			return nil, fmt.Errorf("read HTML list: %w", err)
		}
		return core.ParseList(text), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read list: %w", err)
	}
	return core.ParseList(string(data)), nil
}

// parseRoutes turns "data=domain" rules into a routing table.
func parseRoutes(rules []string) (map[string]string, error) {
	routes := make(map[string]string, len(rules))
	for _, rule := range rules {
		data, domain, ok := strings.Cut(rule, "=")
		if !ok || domain == "" {
			return nil, fmt.Errorf("invalid route %q, want client_data=domain", rule)
		}
		routes[data] = domain
	}
	return routes, nil
}

// serverConfig merges the serve flags over the config file.
func serverConfig(cmd *cobra.Command) (server.Config, string, string, error) {
	sc := server.Config{
		Domain:    cfg.Server.Domain,
		Routes:    make(map[string]string),
		List:      cfg.Server.List,
		AccessLog: serveAccessLog,
		Logger:    logger,
	}
	for k, v := range cfg.Server.Routes {
		sc.Routes[k] = v
	}
	if cmd.Flags().Changed("domain") {
		sc.Domain = serveDomain
	}
	routes, err := parseRoutes(serveRoutes)
	if err != nil {
		return sc, "", "", err
	}
	for k, v := range routes {
		sc.Routes[k] = v
	}
	if len(serveList) > 0 {
		sc.List = serveList
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	keyFile := cfg.Server.PrivateKeyFile
	if servePrivateKey != "" {
		keyFile = servePrivateKey
	}
	if keyFile == "" {
		return sc, "", "", errors.New("a private key is required (--private-key or server.private_key_file)")
	}
	return sc, addr, keyFile, nil
}

func serve(ctx context.Context, cmd *cobra.Command) error {
	sc, addr, keyFile, err := serverConfig(cmd)
	if err != nil {
		return err
	}
	pemData, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	keys, err := crypto.LoadKeyPair(pemData)
	if err != nil {
		return fmt.Errorf("load private key: %w", err)
	}

	log.Printf("Serving passgfw responder on %s (%d-bit key, %d route(s))", addr, keys.Bits(), len(sc.Routes))
	return server.New(keys, sc).ListenAndServe(ctx, addr)
}

// writeKeyPair generates a key pair and writes private.pem and public.pem into dir.
func writeKeyPair(bits int, dir string) (string, string, error) {
	kp, err := crypto.GenerateKeyPair(bits)
	if err != nil {
		return "", "", err
	}
	pubPEM, err := kp.PublicKeyPEM()
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}

	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	if err := os.WriteFile(privPath, kp.PrivateKeyPEM(), 0o600); err != nil {
		return "", "", fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("write public key: %w", err)
	}
	return privPath, pubPath, nil
}

// levelLogger drops "[debug]" lines unless debug logging is on.
type levelLogger struct {
	l     *log.Logger
	debug bool
}

func newLevelLogger(w io.Writer, debug bool) *levelLogger {
	return &levelLogger{l: log.New(w, "", log.LstdFlags), debug: debug}
}

func (l *levelLogger) Printf(format string, v ...any) {
	if !l.debug && strings.HasPrefix(format, "[debug]") {
		return
	}
	l.l.Printf(format, v...)
}
