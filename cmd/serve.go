// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Thermoquad/speedwire/pkg/bridge"
	"github.com/spf13/cobra"
)

var (
	serveListen string
	serveFormat string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Republish telegrams to websocket clients",
	Long: `Run the websocket bridge: every telegram received on the multicast group is
pushed to connected clients, for hosts that cannot join the group themselves.

Endpoints:
  /        status
  /latest  latest reading of every meter (?serial=N for one)
  /ws      websocket stream, JSON text frames or CBOR binary frames

When [bridge] username is set in the config, clients must authenticate with
HTTP Basic auth. The password is read from the environment variable named by
password_env (SPEEDWIRE_PASSWORD by default), or prompted interactively.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (default from config)")
	serveCmd.Flags().StringVar(&serveFormat, "format", "", "Frame format, json or cbor (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	listen := cfg.Bridge.Listen
	if serveListen != "" {
		listen = serveListen
	}
	formatName := cfg.Bridge.Format
	if serveFormat != "" {
		formatName = serveFormat
	}
	format, err := bridge.ParseFormat(formatName)
	if err != nil {
		return err
	}

	password := ""
	if cfg.Bridge.Username != "" {
		password, err = GetPassword()
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("bridge username %q set but password is empty", cfg.Bridge.Username)
		}
	}

	l, info, err := OpenListener()
	if err != nil {
		return err
	}

	srv := bridge.NewServer(bridge.Options{
		Format:   format,
		Username: cfg.Bridge.Username,
		Password: password,
		Logger:   logger,
	})
	l.OnData(srv.Publish)
	l.OnError(srv.PublishError)
	l.OnTimeout(func() {
		logger.Warn("no telegrams received", "timeout", l.ReceiveTimeout())
	})

	ctx, cancel := signalContext()
	defer cancel()

	if err := l.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	logger.Info("bridge listening", "address", listen, "format", format, "multicast", info)

	select {
	case <-ctx.Done():
	case <-l.Done():
		err = errors.New("listener closed unexpectedly")
	case err = <-serveErr:
		err = fmt.Errorf("bridge server: %w", err)
	}

	logger.Info("shutting down bridge")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	srv.Close()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil && !errors.Is(shutdownErr, http.ErrServerClosed) {
		logger.Warn("bridge shutdown", "error", shutdownErr)
	}
	stopListener(l)
	return err
}

