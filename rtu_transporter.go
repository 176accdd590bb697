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
	"time"
)

// TimedReadWriteCloser is implemented by ports that support timeout
// operations natively (goserial ports do).
type TimedReadWriteCloser interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
	SetWriteTimeout(timeout time.Duration) error
}

// readDeadliner and writeDeadliner cover net.Conn style deadline ports
// (plain TCP sockets to RTU-over-TCP gateways, net.Pipe in tests).
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// RTUTransporterConfig holds tuning parameters for the RTU transporter.
type RTUTransporterConfig struct {
	Timeout       time.Duration // Overall per-exchange timeout
	InterFrameGap time.Duration // Silent period before transmission
	MaxFrameSize  int
}

// DefaultRTUTransporterConfig returns the default tuning parameters.
func DefaultRTUTransporterConfig() RTUTransporterConfig {
	return RTUTransporterConfig{
		Timeout:       1 * time.Second,
		InterFrameGap: 3 * time.Millisecond, // 3.5 chars at 9600 baud
		MaxFrameSize:  MaxRTUFrameLength,
	}
}

// RTUTransporter exchanges Modbus RTU frames over a serial port (or any
// io.ReadWriteCloser carrying RTU framing, such as a TCP socket to an
// RTU-over-TCP gateway). It owns the port and is driven by exactly one
// exchange at a time; serialization across callers is the pool's job.
//
// Timeouts use the port's native mechanism: SetReadTimeout/SetWriteTimeout
// on serial ports, SetReadDeadline/SetWriteDeadline on sockets. A port
// offering neither blocks until the device answers.
type RTUTransporter struct {
	port          io.ReadWriteCloser
	packager      *RTUPackager
	timeout       time.Duration
	interFrameGap time.Duration
	maxFrameSize  int
	stale         bool // a timed-out exchange may have left a late reply on the line
}

// NewRTUTransporter creates a new RTUTransporter over the given port.
func NewRTUTransporter(port io.ReadWriteCloser, config RTUTransporterConfig) *RTUTransporter {
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = MaxRTUFrameLength
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRTUTransporterConfig().Timeout
	}
	if config.InterFrameGap <= 0 {
		config.InterFrameGap = DefaultRTUTransporterConfig().InterFrameGap
	}

	return &RTUTransporter{
		port:          port,
		packager:      NewRTUPackager(),
		timeout:       config.Timeout,
		interFrameGap: config.InterFrameGap,
		maxFrameSize:  config.MaxFrameSize,
	}
}

// setReadBound arms the port's read timeout so the next read returns by
// deadline. Ports without any timeout mechanism are left blocking.
func (t *RTUTransporter) setReadBound(deadline time.Time) error {
	switch p := t.port.(type) {
	case TimedReadWriteCloser:
		return p.SetReadTimeout(time.Until(deadline))
	case readDeadliner:
		return p.SetReadDeadline(deadline)
	}
	return nil
}

func (t *RTUTransporter) setWriteBound(deadline time.Time) error {
	switch p := t.port.(type) {
	case TimedReadWriteCloser:
		return p.SetWriteTimeout(time.Until(deadline))
	case writeDeadliner:
		return p.SetWriteDeadline(deadline)
	}
	return nil
}

func (t *RTUTransporter) canBoundReads() bool {
	switch t.port.(type) {
	case TimedReadWriteCloser, readDeadliner:
		return true
	}
	return false
}

// silenceWindow is the read bound used to decide the line has gone quiet.
func (t *RTUTransporter) silenceWindow() time.Duration {
	if t.interFrameGap < 5*time.Millisecond {
		return 5 * time.Millisecond
	}
	return t.interFrameGap
}

// Exchange sends one request frame and reads the matching response frame.
func (t *RTUTransporter) Exchange(frame []byte) ([]byte, error) {
	wire, err := t.packager.Pack(frame)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(t.timeout)

	if t.stale {
		t.drainStale()
		t.stale = false
	}

	if err := t.writeWire(deadline, wire); err != nil {
		t.stale = true
		return nil, err
	}

	respWire, err := t.readWire(deadline)
	if err != nil {
		t.stale = true
		return nil, err
	}

	resp, err := t.packager.Unpack(respWire)
	if err != nil {
		return nil, err
	}
	if resp[0] != frame[0] {
		return nil, frameErrorf("rtu exchange: slave ID mismatch: expected %d, got %d",
			frame[0], resp[0])
	}
	return resp, nil
}

// drainStale discards bytes left on the line by a timed-out exchange, so a
// late reply cannot be mistaken for the answer to the next request. The line
// is considered clean once a full silence window passes with no data.
func (t *RTUTransporter) drainStale() {
	if !t.canBoundReads() {
		return
	}
	buf := make([]byte, t.maxFrameSize)
	for {
		if err := t.setReadBound(time.Now().Add(t.silenceWindow())); err != nil {
			return
		}
		n, err := t.port.Read(buf)
		if err != nil || n == 0 {
			return
		}
	}
}

// writeWire writes the complete wire frame after the mandatory inter-frame
// silent period.
func (t *RTUTransporter) writeWire(deadline time.Time, wire []byte) error {
	time.Sleep(t.interFrameGap)

	if err := t.setWriteBound(deadline); err != nil {
		return fmt.Errorf("modbus rtu: failed to set write timeout: %w", err)
	}

	written := 0
	for written < len(wire) {
		n, err := t.port.Write(wire[written:])
		if err != nil {
			return fmt.Errorf("modbus rtu: write failed after %d bytes: %w", written, err)
		}
		written += n
	}
	return nil
}

// readWire reads one complete response wire frame. For the standard function
// codes the response length is derived from the echoed function code (and
// byte count for reads), so the read stops exactly at the frame boundary.
// Responses to nonstandard function codes have no length table and are
// framed by line silence instead.
func (t *RTUTransporter) readWire(deadline time.Time) ([]byte, error) {
	if err := t.setReadBound(deadline); err != nil {
		return nil, fmt.Errorf("modbus rtu: failed to set read timeout: %w", err)
	}

	// SlaveID + FuncCode + first payload byte (byte count, exception code,
	// or address high byte depending on the function)
	head := make([]byte, 3)
	if _, err := io.ReadFull(t.port, head); err != nil {
		return nil, fmt.Errorf("modbus rtu: failed to read response header: %w", err)
	}

	total, err := expectedRTUFrameLength(head)
	if err != nil {
		return t.readTailUntilSilence(deadline, head)
	}
	if total > t.maxFrameSize {
		return nil, frameErrorf("rtu read: frame length %d exceeds maximum %d", total, t.maxFrameSize)
	}

	wire := make([]byte, total)
	copy(wire, head)
	if err := t.setReadBound(deadline); err != nil {
		return nil, fmt.Errorf("modbus rtu: failed to set read timeout: %w", err)
	}
	if _, err := io.ReadFull(t.port, wire[len(head):]); err != nil {
		return nil, fmt.Errorf("modbus rtu: failed to read response body: %w", err)
	}
	return wire, nil
}

// readTailUntilSilence collects the rest of a response whose length cannot
// be derived from its function code, ending the frame at the first silence
// window. The CRC check in Unpack decides whether the bytes were a frame.
func (t *RTUTransporter) readTailUntilSilence(deadline time.Time, head []byte) ([]byte, error) {
	if !t.canBoundReads() {
		return nil, frameErrorf("rtu read: unsupported function code in response: %02X", head[1])
	}

	wire := append(make([]byte, 0, t.maxFrameSize), head...)
	buf := make([]byte, t.maxFrameSize)
	for {
		bound := time.Now().Add(t.silenceWindow())
		if bound.After(deadline) {
			bound = deadline
		}
		if err := t.setReadBound(bound); err != nil {
			return nil, fmt.Errorf("modbus rtu: failed to set read timeout: %w", err)
		}
		n, err := t.port.Read(buf)
		wire = append(wire, buf[:n]...)
		if len(wire) > t.maxFrameSize {
			return nil, frameErrorf("rtu read: frame length %d exceeds maximum %d",
				len(wire), t.maxFrameSize)
		}
		if err != nil || !time.Now().Before(deadline) {
			break
		}
	}

	if len(wire) < MinRTUFrameLength {
		return nil, frameErrorf("rtu read: truncated response for function code %02X", head[1])
	}
	return wire, nil
}

// expectedRTUFrameLength returns the total wire length (including CRC) of a
// response frame whose first three bytes are head.
func expectedRTUFrameLength(head []byte) (int, error) {
	functionCode := head[1]

	if functionCode&0x80 != 0 {
		return 5, nil // SlaveID + FuncCode + ExceptionCode + CRC
	}

	switch functionCode {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		return 3 + int(head[2]) + 2, nil // Header + ByteCount + Data + CRC
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		return 8, nil // SlaveID + FuncCode + Address + Value/Quantity + CRC
	default:
		return 0, frameErrorf("rtu read: unsupported function code in response: %02X", functionCode)
	}
}

// Close closes the underlying port.
func (t *RTUTransporter) Close() error {
	return t.port.Close()
}
