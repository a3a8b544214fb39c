// Command bedweb runs the remote-administration server: a cobra CLI with
// "serve" (the default) and "version" subcommands, structured logging via
// logrus, and zero-downtime restarts via cloudflare/tableflip on SIGHUP —
// the graceful-restart idiom grounded on Ankit-Kulkarni-go-experiments'
// graceful_restarts/tbflip example, the only place in the pack that
// exercises tableflip.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudflare/tableflip"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/codehz/bedweb/internal/config"
	"github.com/codehz/bedweb/internal/server"
)

// version is set at build time via -ldflags "-X main.version=...".
var version string

func main() {
	root := &cobra.Command{
		Use:   "bedweb",
		Short: "Single-host remote-administration server",
	}

	var configPath string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bedweb server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "bedweb.yaml", "path to the YAML config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if v == "" {
				v = "dev"
			}
			fmt.Println("bedweb", v)
		},
	}

	root.AddCommand(serveCmd, versionCmd)
	root.RunE = serveCmd.RunE
	root.Flags().AddFlagSet(serveCmd.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	upg, err := tableflip.New(tableflip.Options{})
	if err != nil {
		return fmt.Errorf("tableflip: %w", err)
	}
	defer upg.Stop()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGHUP)
		for range sig {
			log.Info("received SIGHUP, upgrading")
			if err := upg.Upgrade(); err != nil {
				log.WithError(err).Warn("upgrade failed")
			}
		}
	}()

	ln, err := upg.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("tableflip: listen %q: %w", cfg.Listen, err)
	}
	defer ln.Close()

	srv := server.New(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	if err := upg.Ready(); err != nil {
		return fmt.Errorf("tableflip: ready: %w", err)
	}
	log.WithField("listen", cfg.Listen).Info("bedweb serving")

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx, ln) }()

	select {
	case <-upg.Exit():
		cancel()
		return <-runErr
	case err := <-runErr:
		return err
	}
}
