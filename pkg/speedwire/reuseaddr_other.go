// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

//go:build !unix

package speedwire

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
