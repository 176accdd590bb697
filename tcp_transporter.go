package modbus

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// TCPTransporter exchanges Modbus TCP frames over a net.Conn. Transaction
// IDs are generated atomically; responses carrying a stale transaction ID
// (late replies to a timed-out request) are drained and ignored.
type TCPTransporter struct {
	conn          net.Conn
	packager      *TCPPackager
	timeout       time.Duration
	transactionID uint32
	logger        io.Writer
	closed        bool
}

// NewTCPTransporter creates a new TCPTransporter with the given connection
// and per-exchange timeout.
func NewTCPTransporter(conn net.Conn, timeout time.Duration, logger io.Writer) *TCPTransporter {
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	return &TCPTransporter{
		conn:     conn,
		packager: NewTCPPackager(),
		timeout:  timeout,
		logger:   logger,
	}
}

// nextTransactionID generates the next transaction ID, wrapping at 65535.
func (t *TCPTransporter) nextTransactionID() uint16 {
	id := atomic.AddUint32(&t.transactionID, 1)
	return uint16(id & 0xFFFF)
}

// Exchange sends one request frame and reads the response with a matching
// transaction ID.
func (t *TCPTransporter) Exchange(frame []byte) ([]byte, error) {
	if t.closed {
		return nil, fmt.Errorf("modbus tcp: transporter is closed")
	}

	txID := t.nextTransactionID()
	wire, err := t.packager.Pack(txID, frame)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(t.timeout)
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("modbus tcp: failed to set deadline: %w", err)
	}
	defer t.conn.SetDeadline(time.Time{})

	written := 0
	for written < len(wire) {
		n, err := t.conn.Write(wire[written:])
		if err != nil {
			return nil, fmt.Errorf("modbus tcp: write failed after %d bytes: %w", written, err)
		}
		written += n
	}

	// Drain stale responses until the matching transaction ID arrives or
	// the deadline expires.
	for {
		respTxID, resp, err := t.receive()
		if err != nil {
			return nil, err
		}
		if respTxID != txID {
			if t.logger != nil {
				fmt.Fprintf(t.logger, "WARNING: modbus tcp: transaction ID mismatch: sent=0x%04X, received=0x%04X, ignoring\n", txID, respTxID)
			}
			continue
		}
		if resp[0] != frame[0] {
			return nil, frameErrorf("tcp exchange: unit ID mismatch: expected %d, got %d",
				frame[0], resp[0])
		}
		return resp, nil
	}
}

// receive reads one complete MBAP frame from the connection.
func (t *TCPTransporter) receive() (uint16, []byte, error) {
	header := make([]byte, TCPHeaderLength)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		return 0, nil, fmt.Errorf("modbus tcp: failed to read MBAP header: %w", err)
	}

	// Length counts the unit ID (already read as header[6]) plus the PDU.
	length := int(header[4])<<8 | int(header[5])
	if length < 2 {
		return 0, nil, frameErrorf("tcp read: invalid length field: %d", length)
	}
	if length > MaxPDULength+1 {
		return 0, nil, frameErrorf("tcp read: length field too large: %d (maximum %d)",
			length, MaxPDULength+1)
	}

	body := make([]byte, length-1)
	if _, err := io.ReadFull(t.conn, body); err != nil {
		return 0, nil, fmt.Errorf("modbus tcp: failed to read PDU (%d bytes): %w", length-1, err)
	}

	wire := make([]byte, TCPHeaderLength+len(body))
	copy(wire, header)
	copy(wire[TCPHeaderLength:], body)

	txID, frame, err := t.packager.Unpack(wire)
	if err != nil {
		return 0, nil, err
	}
	return txID, frame, nil
}

// Close closes the underlying connection.
func (t *TCPTransporter) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
