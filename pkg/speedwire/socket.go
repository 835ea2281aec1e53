// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"
)

// packetConn is the part of net.PacketConn the receive loop relies on
type packetConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// listenFunc opens a socket on port that receives the multicast group on
// the interface owning bind
type listenFunc func(ctx context.Context, bind, group net.IP, port int) (packetConn, error)

// listenMulticast binds a UDP socket with address reuse on port, joins group
// on the interface owning bind and routes outgoing multicast through it.
func listenMulticast(ctx context.Context, bind, group net.IP, port int) (packetConn, error) {
	iface, err := interfaceByIP(bind)
	if err != nil {
		return nil, &StartError{Op: "interface", Err: err}
	}

	lc := net.ListenConfig{Control: reuseAddr}
	c, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, &StartError{Op: "bind", Err: err}
	}

	p := ipv4.NewPacketConn(c)
	if err := p.JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
		c.Close()
		return nil, &StartError{Op: "join " + group.String(), Err: err}
	}
	if err := p.SetMulticastInterface(iface); err != nil {
		c.Close()
		return nil, &StartError{Op: "multicast interface", Err: err}
	}

	return c, nil
}

// interfaceByIP returns the network interface that has ip assigned
func interfaceByIP(ip net.IP) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var candidate net.IP
			switch v := a.(type) {
			case *net.IPNet:
				candidate = v.IP
			case *net.IPAddr:
				candidate = v.IP
			}
			if candidate.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface has address %s", ip)
}

// localAddress returns the address of the interface that routes to the
// internet. No packet is sent, connecting a UDP socket only selects a route.
func localAddress() (net.IP, error) {
	c, err := net.Dial("udp4", "8.8.8.8:10002")
	if err != nil {
		return nil, fmt.Errorf("failed to detect local address: %w", err)
	}
	defer c.Close()

	addr, ok := c.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("failed to detect local address: unexpected %T", c.LocalAddr())
	}
	return addr.IP, nil
}

// addrIP extracts the IP of a datagram source
func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	}
	return nil
}
