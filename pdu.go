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
)

// The frame codec is the pure, stateless translation between logical
// operations and Modbus frames of the shape [unitID, functionCode, payload...].
// RTU and TCP packagers wrap these frames with their respective envelopes
// (CRC trailer / MBAP header). All builders allocate exact-sized buffers and
// every multi-byte field is big-endian per the Modbus spec.

// buildReadRequest builds a read request frame for function codes 0x01-0x04:
// [unitID, fc, addrHi, addrLo, countHi, countLo].
func buildReadRequest(funcCode uint8, unitID uint8, address, quantity uint16) []byte {
	frame := make([]byte, 6)
	frame[0] = unitID
	frame[1] = funcCode
	binary.BigEndian.PutUint16(frame[2:4], address)
	binary.BigEndian.PutUint16(frame[4:6], quantity)
	return frame
}

// buildWriteSingleRegister builds a function code 0x06 request frame.
func buildWriteSingleRegister(unitID uint8, address, value uint16) []byte {
	frame := make([]byte, 6)
	frame[0] = unitID
	frame[1] = FuncCodeWriteSingleRegister
	binary.BigEndian.PutUint16(frame[2:4], address)
	binary.BigEndian.PutUint16(frame[4:6], value)
	return frame
}

// buildWriteSingleCoil builds a function code 0x05 request frame. The value
// field is 0xFF00 for ON and 0x0000 for OFF.
func buildWriteSingleCoil(unitID uint8, address uint16, on bool) []byte {
	frame := make([]byte, 6)
	frame[0] = unitID
	frame[1] = FuncCodeWriteSingleCoil
	binary.BigEndian.PutUint16(frame[2:4], address)
	if on {
		binary.BigEndian.PutUint16(frame[4:6], CoilOn)
	} else {
		binary.BigEndian.PutUint16(frame[4:6], CoilOff)
	}
	return frame
}

// buildWriteMultipleRegisters builds a function code 0x10 request frame from
// raw register bytes (two bytes per register, big-endian):
// [unitID, fc, addrHi, addrLo, countHi, countLo, byteCount, values...].
func buildWriteMultipleRegisters(unitID uint8, address uint16, values []byte) ([]byte, error) {
	if len(values) == 0 {
		return nil, frameErrorf("write multiple registers: no register data")
	}
	if len(values)%2 != 0 {
		return nil, frameErrorf("write multiple registers: odd data length %d", len(values))
	}
	quantity := uint16(len(values) / 2)
	frame := make([]byte, 7+len(values))
	frame[0] = unitID
	frame[1] = FuncCodeWriteMultipleRegisters
	binary.BigEndian.PutUint16(frame[2:4], address)
	binary.BigEndian.PutUint16(frame[4:6], quantity)
	frame[6] = byte(len(values))
	copy(frame[7:], values)
	return frame, nil
}

// buildWriteMultipleCoils builds a function code 0x0F request frame from
// pre-packed coil bytes (one bit per coil, LSB-first within each byte). The
// coil quantity is byteCount*8, matching the packed representation.
func buildWriteMultipleCoils(unitID uint8, address uint16, packedBits []byte) ([]byte, error) {
	if len(packedBits) == 0 {
		return nil, frameErrorf("write multiple coils: no coil data")
	}
	quantity := uint16(len(packedBits) * 8)
	frame := make([]byte, 7+len(packedBits))
	frame[0] = unitID
	frame[1] = FuncCodeWriteMultipleCoils
	binary.BigEndian.PutUint16(frame[2:4], address)
	binary.BigEndian.PutUint16(frame[4:6], quantity)
	frame[6] = byte(len(packedBits))
	copy(frame[7:], packedBits)
	return frame, nil
}

// parseReadResponse validates a read response frame and returns its data
// payload. An exception response (function code with the high bit set) is
// surfaced as *ModbusError; a byte count that does not match the remaining
// frame length is surfaced as *FrameError.
func parseReadResponse(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, frameErrorf("read response too short: %d bytes", len(frame))
	}
	if frame[1]&0x80 != 0 {
		if len(frame) < 3 {
			return nil, frameErrorf("exception response truncated: %d bytes", len(frame))
		}
		return nil, &ModbusError{FunctionCode: frame[1] & 0x7F, ExceptionCode: frame[2]}
	}
	if len(frame) < 3 {
		return nil, frameErrorf("read response missing byte count: %d bytes", len(frame))
	}
	byteCount := int(frame[2])
	if len(frame) != 3+byteCount {
		return nil, frameErrorf("read response byte count mismatch: declared %d, remaining %d",
			byteCount, len(frame)-3)
	}
	return frame[3 : 3+byteCount], nil
}

// parseWriteResponse validates a write response frame. The slave echoes the
// request header on success; the only checks required here are the exception
// bit and that the echoed function code matches the request.
func parseWriteResponse(frame []byte, expectedFuncCode uint8) error {
	if len(frame) < 2 {
		return frameErrorf("write response too short: %d bytes", len(frame))
	}
	if frame[1]&0x80 != 0 {
		if len(frame) < 3 {
			return frameErrorf("exception response truncated: %d bytes", len(frame))
		}
		return &ModbusError{FunctionCode: frame[1] & 0x7F, ExceptionCode: frame[2]}
	}
	if frame[1] != expectedFuncCode {
		return frameErrorf("unexpected function code in response: got %02X, expected %02X",
			frame[1], expectedFuncCode)
	}
	return nil
}

// packCoils packs boolean coil states into bytes, one bit per coil,
// LSB-first within each byte.
func packCoils(values []bool) []byte {
	packed := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			packed[i/8] |= 1 << (i % 8)
		}
	}
	return packed
}

// unpackCoils expands packed coil bytes into quantity boolean states,
// LSB-first within each byte.
func unpackCoils(data []byte, quantity uint16) []bool {
	coils := make([]bool, quantity)
	for i := 0; i < int(quantity); i++ {
		byteIndex := i / 8
		if byteIndex >= len(data) {
			break
		}
		coils[i] = data[byteIndex]&(1<<(i%8)) != 0
	}
	return coils
}
