package modbus

import (
	"encoding/binary"
)

// TCPPackager handles Modbus TCP (MBAP) framing. The wire frame is
// MBAP (7 bytes) + PDU: Transaction Identifier (2) + Protocol Identifier (2)
// + Length (2) + Unit Identifier (1). The socket provides integrity, so
// there is no CRC.
type TCPPackager struct{}

// NewTCPPackager creates a new TCPPackager.
func NewTCPPackager() *TCPPackager {
	return &TCPPackager{}
}

// Pack wraps a unit-prefixed frame [unitID, fc, payload...] in an MBAP
// header with the given transaction ID.
func (p *TCPPackager) Pack(transactionID uint16, frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, frameErrorf("tcp pack: frame too short: %d bytes", len(frame))
	}
	pduLen := len(frame) - 1 // PDU excludes the unit ID
	if pduLen > MaxPDULength {
		return nil, frameErrorf("tcp pack: PDU length %d exceeds maximum %d bytes",
			pduLen, MaxPDULength)
	}

	// Length field counts the unit ID plus the PDU
	length := uint16(pduLen + 1)

	wire := make([]byte, TCPHeaderLength+pduLen)
	binary.BigEndian.PutUint16(wire[0:2], transactionID)
	binary.BigEndian.PutUint16(wire[2:4], ProtocolIdentifierTCP)
	binary.BigEndian.PutUint16(wire[4:6], length)
	wire[6] = frame[0]
	copy(wire[7:], frame[1:])
	return wire, nil
}

// Unpack validates an MBAP frame and returns the transaction ID and the
// unit-prefixed frame [unitID, fc, payload...].
func (p *TCPPackager) Unpack(wire []byte) (transactionID uint16, frame []byte, err error) {
	if len(wire) < TCPHeaderLength+1 {
		err = frameErrorf("tcp unpack: frame too short: %d bytes (minimum %d)",
			len(wire), TCPHeaderLength+1)
		return
	}
	if len(wire) > MaxTCPFrameLength {
		err = frameErrorf("tcp unpack: frame too long: %d bytes (maximum %d)",
			len(wire), MaxTCPFrameLength)
		return
	}

	transactionID = binary.BigEndian.Uint16(wire[0:2])
	protocolID := binary.BigEndian.Uint16(wire[2:4])
	length := binary.BigEndian.Uint16(wire[4:6])
	unitID := wire[6]

	if protocolID != ProtocolIdentifierTCP {
		err = frameErrorf("tcp unpack: invalid protocol identifier: 0x%04X, expected 0x%04X",
			protocolID, ProtocolIdentifierTCP)
		return
	}

	pdu := wire[7:]

	// The length field counts the unit ID plus the PDU
	if int(length) != len(pdu)+1 {
		err = frameErrorf("tcp unpack: length field mismatch: header indicates %d, actual %d",
			length, len(pdu)+1)
		return
	}

	frame = make([]byte, 1+len(pdu))
	frame[0] = unitID
	copy(frame[1:], pdu)
	return
}
