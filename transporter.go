package modbus

// Transporter is the common interface for the physical exchange layers. An
// Exchange sends one unit-prefixed request frame [unitID, fc, payload...]
// and blocks until the matching response frame arrives or the configured
// timeout elapses. Implementations are not required to be safe for
// concurrent Exchange calls; the pool serializes access per physical link.
type Transporter interface {
	Exchange(frame []byte) ([]byte, error)
	Close() error
}
