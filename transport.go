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
	"io"
	"sync"
)

// Transport is a slave-bound handle onto a shared physical connection. It
// owns no physical resource: the client and lock belong to the pool and are
// shared by every Transport created against the same connection identity.
//
// Every operation follows the same sequence: acquire the shared lock,
// address the shared client to this handle's slave ID, run the exchange
// under the retry policy, release the lock. The lock wraps the whole retry
// loop, so retries for one device are never interleaved with another
// device's operations on the same bus. This gives strict first-come-first-
// served ordering per physical link, which RTU's half-duplex medium
// requires and which is imposed on TCP too because cheap device firmware
// often serializes requests internally anyway.
type Transport struct {
	slaveID    uint8
	client     *Client     // shared, owned by the pool
	mu         *sync.Mutex // shared, one per physical connection
	maxRetries int
	logger     io.Writer
}

func newTransport(slaveID uint8, client *Client, mu *sync.Mutex, maxRetries int, logger io.Writer) *Transport {
	return &Transport{
		slaveID:    slaveID,
		client:     client,
		mu:         mu,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// SlaveID returns the unit ID this handle is bound to.
func (t *Transport) SlaveID() uint8 {
	return t.slaveID
}

// execute runs op with the full lock/address/retry discipline.
func (t *Transport) execute(op func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.client.SetSlaveID(t.slaveID)
	return withRetry(t.maxRetries, t.logger, op)
}

// ReadCoils reads quantity coils starting at address, returning the packed
// coil bytes (one bit per coil, LSB-first within each byte).
func (t *Transport) ReadCoils(address, quantity uint16) ([]byte, error) {
	var data []byte
	err := t.execute(func() error {
		var opErr error
		data, opErr = t.client.ReadCoils(address, quantity)
		return opErr
	})
	return data, err
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address.
func (t *Transport) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	var data []byte
	err := t.execute(func() error {
		var opErr error
		data, opErr = t.client.ReadDiscreteInputs(address, quantity)
		return opErr
	})
	return data, err
}

// ReadHoldingRegisters reads quantity holding registers starting at
// address, returning the raw register bytes (two per register, big-endian).
func (t *Transport) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	var data []byte
	err := t.execute(func() error {
		var opErr error
		data, opErr = t.client.ReadHoldingRegisters(address, quantity)
		return opErr
	})
	return data, err
}

// ReadInputRegisters reads quantity input registers starting at address.
func (t *Transport) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	var data []byte
	err := t.execute(func() error {
		var opErr error
		data, opErr = t.client.ReadInputRegisters(address, quantity)
		return opErr
	})
	return data, err
}

// WriteSingleRegister writes value to the register at address.
func (t *Transport) WriteSingleRegister(address, value uint16) error {
	return t.execute(func() error {
		return t.client.WriteSingleRegister(address, value)
	})
}

// WriteSingleCoil writes the on/off state to the coil at address.
func (t *Transport) WriteSingleCoil(address uint16, on bool) error {
	return t.execute(func() error {
		return t.client.WriteSingleCoil(address, on)
	})
}

// WriteMultipleRegisters writes raw register bytes (two per register,
// big-endian) starting at address.
func (t *Transport) WriteMultipleRegisters(address uint16, values []byte) error {
	return t.execute(func() error {
		return t.client.WriteMultipleRegisters(address, values)
	})
}

// WriteMultipleCoils writes pre-packed coil bytes (one bit per coil,
// LSB-first within each byte) starting at address.
func (t *Transport) WriteMultipleCoils(address uint16, packedBits []byte) error {
	return t.execute(func() error {
		return t.client.WriteMultipleCoils(address, packedBits)
	})
}

// ExecuteRaw sends a raw PDU (function code plus payload) to the bound
// device under the same lock/address/retry discipline and returns the raw
// response PDU.
func (t *Transport) ExecuteRaw(pdu []byte) ([]byte, error) {
	var resp []byte
	err := t.execute(func() error {
		var opErr error
		resp, opErr = t.client.ExecuteRaw(pdu)
		return opErr
	})
	return resp, err
}

// Close is a no-op: the physical client is owned by the pool and may still
// be referenced by other slave-bound transports. Only TransportManager's
// CloseAll releases the underlying resource.
func (t *Transport) Close() error {
	return nil
}
