// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"fmt"
	"io"
	"net"
	"sync"

	serial "github.com/hootrhino/goserial"
)

// connectionEntry is one pooled physical connection: the shared client and
// the bus lock serializing every exchange on it. Entries are owned by the
// TransportManager and shared by reference with slave-bound transports, so
// they live until CloseAll even if individual transports are dropped.
// The open runs under the entry's once, not the pool lock, so a slow dial
// on one identity never blocks GetTransport for another.
type connectionEntry struct {
	once    sync.Once
	client  *Client
	openErr error
	mu      sync.Mutex
	isRTU   bool
}

// PoolStats reports the distinct physical connections currently pooled.
type PoolStats struct {
	RTUConnections int
	TCPConnections int
}

// TransportManager is the connection pool. It keys physical connections by
// identity (everything in the transport config except the slave ID), opens
// each underlying client exactly once, and hands out slave-bound transports
// that share the pooled client and lock.
type TransportManager struct {
	mu      sync.Mutex
	entries map[string]*connectionEntry
	logger  io.Writer
}

// NewTransportManager creates an empty pool. logger, if non-nil, receives
// pool lifecycle messages (openings, close failures).
func NewTransportManager(logger io.Writer) *TransportManager {
	return &TransportManager{
		entries: make(map[string]*connectionEntry),
		logger:  logger,
	}
}

func (m *TransportManager) logf(format string, v ...interface{}) {
	if m.logger != nil {
		fmt.Fprintf(m.logger, format+"\n", v...)
	}
}

// GetTransport returns a slave-bound transport for the device described by
// cfg, creating the underlying physical connection on first use of its
// identity. Every transport for the same identity shares one client and one
// lock; the slave ID only parameterizes the returned handle. Open failures
// surface as *ConnectionError and the identity is not cached, so the next
// call retries the open.
func (m *TransportManager) GetTransport(cfg *TransportConfig) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	identity := cfg.identity()
	logger := cfg.Logger
	if logger == nil {
		logger = m.logger
	}

	m.mu.Lock()
	entry, ok := m.entries[identity]
	if !ok {
		entry = &connectionEntry{isRTU: cfg.IsRTU()}
		m.entries[identity] = entry
	}
	m.mu.Unlock()

	entry.once.Do(func() {
		transporter, err := m.open(cfg)
		if err != nil {
			entry.openErr = err
			return
		}
		entry.client = NewClient(transporter, logger)
		m.logf("INFO: modbus: opened connection %s", identity)
	})

	if entry.openErr != nil {
		// Drop the failed entry so the next caller retries the open. Guard
		// against removing a fresh entry created after an earlier drop.
		m.mu.Lock()
		if m.entries[identity] == entry {
			delete(m.entries, identity)
		}
		m.mu.Unlock()
		return nil, &ConnectionError{Identity: identity, Err: entry.openErr}
	}

	return newTransport(cfg.SlaveID, entry.client, &entry.mu, cfg.MaxRetries, logger), nil
}

// open creates the physical transporter for cfg.
func (m *TransportManager) open(cfg *TransportConfig) (Transporter, error) {
	if cfg.IsRTU() {
		port, err := serial.Open(&serial.Config{
			Address:  cfg.Port,
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			StopBits: cfg.StopBits,
			Parity:   cfg.Parity,
			Timeout:  cfg.timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
		}
		rtuConfig := DefaultRTUTransporterConfig()
		rtuConfig.Timeout = cfg.timeout()
		return NewRTUTransporter(port, rtuConfig), nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.TCPPort)
	conn, err := net.DialTimeout("tcp", addr, cfg.timeout())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if cfg.RTUFraming {
		rtuConfig := DefaultRTUTransporterConfig()
		rtuConfig.Timeout = cfg.timeout()
		return NewRTUTransporter(conn, rtuConfig), nil
	}
	return NewTCPTransporter(conn, cfg.timeout(), cfg.Logger), nil
}

// Stats reports how many distinct RTU and TCP connections are pooled.
func (m *TransportManager) Stats() PoolStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats PoolStats
	for _, entry := range m.entries {
		if entry.client == nil {
			continue // open still in flight or failed
		}
		if entry.isRTU {
			stats.RTUConnections++
		} else {
			stats.TCPConnections++
		}
	}
	return stats
}

// CloseAll closes every distinct physical client exactly once and clears
// the pool. Per-client close failures are logged and do not abort the
// remaining closes; shutdown is best-effort.
func (m *TransportManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for identity, entry := range m.entries {
		if entry.client == nil {
			continue
		}
		if err := entry.client.Close(); err != nil {
			m.logf("WARNING: modbus: failed to close connection %s: %v", identity, err)
		}
	}
	m.entries = make(map[string]*connectionEntry)
}
