package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"tsae/config"
	"tsae/datastruct"
	"tsae/metrics"
	"tsae/node"
	"tsae/sign"
)

func main() {
	var (
		configPath string
		configName = "config"
		readStdin  bool
	)

	root := &cobra.Command{
		Use:           "tsae",
		Short:         "Timestamped anti-entropy replica",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start a replica and gossip with the rest of the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.LoadConfig(configPath, configName)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return startTSAE(ctx, conf, readStdin)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config-path", configPath, "directory holding the config file")
	runCmd.Flags().StringVar(&configName, "config-name", configName, "config file name without extension")
	runCmd.Flags().BoolVar(&readStdin, "stdin", false, "issue every line read from stdin as a local operation")

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh ED25519 key pair in hex",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			priv, pub := sign.GenED25519Keys()
			fmt.Fprintf(cmd.OutOrStdout(), "private_key: %s\npublic_key: %s\n",
				hex.EncodeToString(priv), hex.EncodeToString(pub))
		},
	}

	root.AddCommand(runCmd, keygenCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func startTSAE(ctx context.Context, conf *config.Config, readStdin bool) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "TSAE-main",
		Output: hclog.DefaultOutput,
		Level:  hclog.Level(conf.LogLevel),
	})

	n, err := node.NewNode(conf)
	if err != nil {
		return err
	}
	if err := n.StartP2PListen(); err != nil {
		return err
	}
	defer n.Close()
	n.SetApplyHandler(func(op datastruct.Operation) {
		logger.Info("apply", "timestamp", op.Timestamp.String(), "payload", string(op.Payload))
	})

	if conf.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.RegisterTSAE(reg); err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              conf.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	if readStdin {
		go issueLines(ctx, os.Stdin, n, logger)
	}

	logger.Info("node starts the TSAE!", "node", conf.Name, "addr", conf.ClusterAddr[conf.Name])
	return n.Run(ctx)
}

type operationIssuer interface {
	AddLocalOperation(payload []byte) (datastruct.Operation, error)
}

// issueLines issues every line of r as a local operation until r is exhausted
// or ctx is done. r is closed on return when it is an io.Closer, which
// releases the reading goroutine.
func issueLines(ctx context.Context, r io.Reader, n operationIssuer, logger hclog.Logger) {
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := n.AddLocalOperation([]byte(line)); err != nil {
				logger.Error("fail to issue operation", "error", err)
			}
		}
	}
}
