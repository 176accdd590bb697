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
	"encoding/binary"
	"fmt"
	"io"
)

// Client is the physical Modbus client: it owns exactly one transporter
// (one serial port or one socket) and carries the unit ID it is currently
// addressed to. A Client is shared by every slave-bound transport created
// against the same connection identity; callers must hold the shared bus
// lock around SetSlaveID plus the subsequent operation, which the
// slave-bound transport does. The Client itself performs no locking.
type Client struct {
	transporter Transporter
	slaveID     uint8
	logger      io.Writer
}

// NewClient creates a Client over the given transporter.
func NewClient(transporter Transporter, logger io.Writer) *Client {
	return &Client{
		transporter: transporter,
		slaveID:     MinSlaveID,
		logger:      logger,
	}
}

// SetSlaveID addresses the client to the given unit ID. Subsequent
// operations are directed at that device.
func (c *Client) SetSlaveID(slaveID uint8) {
	c.slaveID = slaveID
}

// SlaveID returns the currently addressed unit ID.
func (c *Client) SlaveID() uint8 {
	return c.slaveID
}

func (c *Client) logf(format string, v ...interface{}) {
	if c.logger != nil {
		fmt.Fprintf(c.logger, format+"\n", v...)
	}
}

// readRequest performs a read exchange (function codes 0x01-0x04) and
// returns the raw data payload bytes.
func (c *Client) readRequest(funcCode uint8, address, quantity uint16) ([]byte, error) {
	req := buildReadRequest(funcCode, c.slaveID, address, quantity)
	c.logf("DEBUG: modbus: request slave %d func %02X: %s", c.slaveID, funcCode, formatHex(req))

	resp, err := c.transporter.Exchange(req)
	if err != nil {
		return nil, fmt.Errorf("modbus: exchange failed for func %02X (slave %d): %w",
			funcCode, c.slaveID, err)
	}

	data, err := parseReadResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp[1] != funcCode {
		return nil, frameErrorf("unexpected function code in response: got %02X, expected %02X",
			resp[1], funcCode)
	}
	return data, nil
}

// ReadCoils reads quantity coils starting at address and returns the packed
// coil bytes (one bit per coil, LSB-first within each byte).
func (c *Client) ReadCoils(address, quantity uint16) ([]byte, error) {
	return c.readRequest(FuncCodeReadCoils, address, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address and
// returns the packed input bytes.
func (c *Client) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return c.readRequest(FuncCodeReadDiscreteInputs, address, quantity)
}

// ReadHoldingRegisters reads quantity holding registers starting at address
// and returns the raw register bytes (two per register, big-endian).
func (c *Client) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	data, err := c.readRequest(FuncCodeReadHoldingRegisters, address, quantity)
	if err != nil {
		return nil, err
	}
	if len(data)%2 != 0 {
		return nil, frameErrorf("register data length must be even, got %d", len(data))
	}
	return data, nil
}

// ReadInputRegisters reads quantity input registers starting at address and
// returns the raw register bytes.
func (c *Client) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	data, err := c.readRequest(FuncCodeReadInputRegisters, address, quantity)
	if err != nil {
		return nil, err
	}
	if len(data)%2 != 0 {
		return nil, frameErrorf("register data length must be even, got %d", len(data))
	}
	return data, nil
}

// WriteSingleRegister writes value to the register at address (function
// code 0x06) and validates the echoed address and value.
func (c *Client) WriteSingleRegister(address, value uint16) error {
	req := buildWriteSingleRegister(c.slaveID, address, value)
	resp, err := c.exchangeWrite(req, FuncCodeWriteSingleRegister)
	if err != nil {
		return err
	}

	respAddress := binary.BigEndian.Uint16(resp[2:4])
	respValue := binary.BigEndian.Uint16(resp[4:6])
	if respAddress != address {
		return frameErrorf("write single register response address mismatch: expected %d, got %d",
			address, respAddress)
	}
	if respValue != value {
		return frameErrorf("write single register response value mismatch: expected %d, got %d",
			value, respValue)
	}
	return nil
}

// WriteSingleCoil writes the on/off state to the coil at address (function
// code 0x05) and validates the echoed state.
func (c *Client) WriteSingleCoil(address uint16, on bool) error {
	req := buildWriteSingleCoil(c.slaveID, address, on)
	resp, err := c.exchangeWrite(req, FuncCodeWriteSingleCoil)
	if err != nil {
		return err
	}

	respValue := binary.BigEndian.Uint16(resp[4:6])
	if respValue != CoilOn && respValue != CoilOff {
		return frameErrorf("write single coil response value format error: got 0x%04X", respValue)
	}
	if on && respValue != CoilOn {
		return frameErrorf("write single coil response value mismatch: expected ON (0xFF00), got 0x%04X", respValue)
	}
	if !on && respValue != CoilOff {
		return frameErrorf("write single coil response value mismatch: expected OFF (0x0000), got 0x%04X", respValue)
	}
	return nil
}

// WriteMultipleRegisters writes raw register bytes (two per register,
// big-endian) starting at address (function code 0x10).
func (c *Client) WriteMultipleRegisters(address uint16, values []byte) error {
	req, err := buildWriteMultipleRegisters(c.slaveID, address, values)
	if err != nil {
		return err
	}
	resp, err := c.exchangeWrite(req, FuncCodeWriteMultipleRegisters)
	if err != nil {
		return err
	}

	respAddress := binary.BigEndian.Uint16(resp[2:4])
	respQuantity := binary.BigEndian.Uint16(resp[4:6])
	if respAddress != address {
		return frameErrorf("write multiple registers response address mismatch: expected %d, got %d",
			address, respAddress)
	}
	if want := uint16(len(values) / 2); respQuantity != want {
		return frameErrorf("write multiple registers response quantity mismatch: expected %d, got %d",
			want, respQuantity)
	}
	return nil
}

// WriteMultipleCoils writes pre-packed coil bytes (one bit per coil,
// LSB-first within each byte) starting at address (function code 0x0F).
func (c *Client) WriteMultipleCoils(address uint16, packedBits []byte) error {
	req, err := buildWriteMultipleCoils(c.slaveID, address, packedBits)
	if err != nil {
		return err
	}
	resp, err := c.exchangeWrite(req, FuncCodeWriteMultipleCoils)
	if err != nil {
		return err
	}

	respAddress := binary.BigEndian.Uint16(resp[2:4])
	if respAddress != address {
		return frameErrorf("write multiple coils response address mismatch: expected %d, got %d",
			address, respAddress)
	}
	return nil
}

// exchangeWrite performs a write exchange and validates the response
// framing. Write responses echo [unitID, fc, addr, value/quantity], 6 bytes.
func (c *Client) exchangeWrite(req []byte, funcCode uint8) ([]byte, error) {
	c.logf("DEBUG: modbus: request slave %d func %02X: %s", c.slaveID, funcCode, formatHex(req))

	resp, err := c.transporter.Exchange(req)
	if err != nil {
		return nil, fmt.Errorf("modbus: exchange failed for func %02X (slave %d): %w",
			funcCode, c.slaveID, err)
	}
	if err := parseWriteResponse(resp, funcCode); err != nil {
		return nil, err
	}
	if len(resp) != 6 {
		return nil, frameErrorf("invalid write response length for func %02X: expected 6, got %d",
			funcCode, len(resp))
	}
	return resp, nil
}

// ExecuteRaw sends a raw PDU (function code plus payload) to the currently
// addressed device and returns the raw response PDU. It is the escape hatch
// for custom function codes; no response validation beyond transport-level
// framing is performed. Over TCP the MBAP length field frames the response;
// over RTU responses to nonstandard function codes are framed by line
// silence, so the port must support read timeouts or deadlines.
func (c *Client) ExecuteRaw(pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, frameErrorf("raw PDU cannot be empty")
	}
	frame := make([]byte, 1+len(pdu))
	frame[0] = c.slaveID
	copy(frame[1:], pdu)

	resp, err := c.transporter.Exchange(frame)
	if err != nil {
		return nil, fmt.Errorf("modbus: raw exchange failed (slave %d): %w", c.slaveID, err)
	}
	if len(resp) < 2 {
		return nil, frameErrorf("raw response too short: %d bytes", len(resp))
	}
	if resp[1]&0x80 != 0 && len(resp) >= 3 {
		return nil, &ModbusError{FunctionCode: resp[1] & 0x7F, ExceptionCode: resp[2]}
	}
	return resp[1:], nil
}

// Close closes the underlying transporter. Only the connection pool may
// call this; slave-bound transports share the client without owning it.
func (c *Client) Close() error {
	return c.transporter.Close()
}
