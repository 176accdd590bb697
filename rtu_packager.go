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

// RTUPackager handles RTU wire framing: it turns a unit-prefixed frame
// [unitID, fc, payload...] into [unitID, fc, payload..., crcLo, crcHi] and
// back, validating the CRC on the way in. It keeps a pre-calculated CRC
// lookup table so per-frame checksum cost is one table walk.
type RTUPackager struct {
	crcTable [256]uint16
}

// NewRTUPackager creates a new RTU packager with a pre-calculated CRC table.
func NewRTUPackager() *RTUPackager {
	p := &RTUPackager{}
	p.initCRCTable()
	return p
}

// initCRCTable initializes the CRC-16 lookup table (polynomial 0xA001).
func (p *RTUPackager) initCRCTable() {
	const polynomial = 0xA001

	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ polynomial
			} else {
				crc >>= 1
			}
		}
		p.crcTable[i] = crc
	}
}

// calculateCRC calculates CRC-16 for the given data using the lookup table.
func (p *RTUPackager) calculateCRC(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		tableIndex := uint8(crc) ^ b
		crc = (crc >> 8) ^ p.crcTable[tableIndex]
	}
	return crc
}

// Pack appends the CRC trailer to a unit-prefixed frame.
func (p *RTUPackager) Pack(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, frameErrorf("rtu pack: frame too short: %d bytes", len(frame))
	}
	if len(frame)+2 > MaxRTUFrameLength {
		return nil, frameErrorf("rtu pack: frame too long: %d bytes (max %d)",
			len(frame), MaxRTUFrameLength-2)
	}
	unitID := frame[0]
	if unitID < MinSlaveID || unitID > MaxSlaveID {
		return nil, frameErrorf("rtu pack: invalid slave ID: %d (must be %d-%d)",
			unitID, MinSlaveID, MaxSlaveID)
	}

	wire := make([]byte, len(frame)+2)
	copy(wire, frame)
	crc := p.calculateCRC(frame)

	// CRC is transmitted in little-endian format
	wire[len(wire)-2] = byte(crc & 0xFF)
	wire[len(wire)-1] = byte((crc >> 8) & 0xFF)
	return wire, nil
}

// Unpack strips and verifies the CRC trailer, returning the unit-prefixed
// frame [unitID, fc, payload...].
func (p *RTUPackager) Unpack(wire []byte) ([]byte, error) {
	if len(wire) < MinRTUFrameLength {
		return nil, frameErrorf("rtu unpack: frame too short: %d bytes (minimum %d)",
			len(wire), MinRTUFrameLength)
	}
	if !p.VerifyCRC(wire) {
		return nil, frameErrorf("rtu unpack: CRC verification failed")
	}
	frame := make([]byte, len(wire)-2)
	copy(frame, wire[:len(wire)-2])
	return frame, nil
}

// VerifyCRC verifies the trailing little-endian CRC of an RTU wire frame.
func (p *RTUPackager) VerifyCRC(wire []byte) bool {
	if len(wire) < MinRTUFrameLength {
		return false
	}
	dataLen := len(wire) - 2
	calculated := p.calculateCRC(wire[:dataLen])
	received := uint16(wire[dataLen]) | (uint16(wire[dataLen+1]) << 8)
	return calculated == received
}
