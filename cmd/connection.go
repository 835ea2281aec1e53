// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"golang.org/x/term"
)

// OpenListener creates a listener from the effective settings. The listener
// is not started so that observers can be registered first.
func OpenListener() (*speedwire.Listener, string, error) {
	lc := cfg.SpeedwireConfig()
	lc.Logger = logger

	l, err := speedwire.New(lc)
	if err != nil {
		return nil, "", err
	}

	info := fmt.Sprintf("%s:%d via %s", l.Group(), l.Port(), l.BindAddress())
	return l, info, nil
}

// signalContext returns a context cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// stopListener shuts l down and waits for the receive loop to exit
func stopListener(l *speedwire.Listener) {
	l.Shutdown()
	<-l.Done()
}

// GetPassword retrieves the bridge password from the environment variable
// named in the config or prompts the user
func GetPassword() (string, error) {
	// First check environment variable
	if env := cfg.Bridge.PasswordEnv; env != "" {
		if pw := os.Getenv(env); pw != "" {
			return pw, nil
		}
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// isTerminal reports whether stdout is attached to a terminal
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
