package modbus

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportConfig describes one logical device on a physical link. Exactly
// one of Port (serial path, RTU) or Host (TCP) must be set; that choice
// discriminates the transport kind. The config arrives from a CLI or
// driver layer, either as a struct or as YAML via ParseTransportConfig.
type TransportConfig struct {
	// RTU
	Port     string `yaml:"port,omitempty"`     // Serial device path, e.g. /dev/ttyUSB0
	BaudRate int    `yaml:"baudRate,omitempty"` // Default 9600
	Parity   string `yaml:"parity,omitempty"`   // "N", "E" or "O"; default "N"
	DataBits int    `yaml:"dataBits,omitempty"` // 7 or 8; default 8
	StopBits int    `yaml:"stopBits,omitempty"` // 1 or 2; default 1

	// TCP
	Host       string `yaml:"host,omitempty"`
	TCPPort    int    `yaml:"tcpPort,omitempty"`    // Default 502
	RTUFraming bool   `yaml:"rtuFraming,omitempty"` // RTU frames over the socket (RTU-over-TCP gateways)

	// Common
	TimeoutMs  int   `yaml:"timeoutMs,omitempty"`  // Default 1000
	SlaveID    uint8 `yaml:"slaveId"`              // 1-247
	MaxRetries int   `yaml:"maxRetries,omitempty"` // Default 3; 1 disables retrying

	Logger io.Writer `yaml:"-"`
}

// ParseTransportConfig decodes a YAML transport configuration and validates it.
func ParseTransportConfig(data []byte) (*TransportConfig, error) {
	var cfg TransportConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("modbus: failed to decode transport config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsRTU reports whether the config describes a serial RTU link.
func (c *TransportConfig) IsRTU() bool {
	return c.Port != ""
}

// applyDefaults fills unset optional fields.
func (c *TransportConfig) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.TCPPort == 0 {
		c.TCPPort = 502
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 1000
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the sum-type invariant and field domains, applying
// defaults first.
func (c *TransportConfig) Validate() error {
	c.applyDefaults()

	if c.Port == "" && c.Host == "" {
		return fmt.Errorf("modbus: transport config requires either port (RTU) or host (TCP)")
	}
	if c.Port != "" && c.Host != "" {
		return fmt.Errorf("modbus: transport config cannot set both port and host")
	}
	if c.SlaveID < MinSlaveID || c.SlaveID > MaxSlaveID {
		return fmt.Errorf("modbus: invalid slave ID: %d (must be %d-%d)",
			c.SlaveID, MinSlaveID, MaxSlaveID)
	}
	if c.IsRTU() {
		switch c.Parity {
		case "N", "E", "O":
		default:
			return fmt.Errorf("modbus: invalid parity: %q (must be N, E or O)", c.Parity)
		}
		if c.DataBits != 7 && c.DataBits != 8 {
			return fmt.Errorf("modbus: invalid data bits: %d (must be 7 or 8)", c.DataBits)
		}
		if c.StopBits != 1 && c.StopBits != 2 {
			return fmt.Errorf("modbus: invalid stop bits: %d (must be 1 or 2)", c.StopBits)
		}
		if c.BaudRate <= 0 {
			return fmt.Errorf("modbus: invalid baud rate: %d", c.BaudRate)
		}
		if c.RTUFraming {
			return fmt.Errorf("modbus: rtuFraming only applies to TCP transports")
		}
	} else if c.TCPPort <= 0 || c.TCPPort > 65535 {
		return fmt.Errorf("modbus: invalid TCP port: %d", c.TCPPort)
	}
	return nil
}

// identity computes the physical-connection identity key. Two configs
// differing only in SlaveID (or retry/timeout/logging knobs) map to the
// same key and therefore share one physical client and one bus lock.
func (c *TransportConfig) identity() string {
	if c.IsRTU() {
		return fmt.Sprintf("rtu://%s?baud=%d&data=%d&parity=%s&stop=%d",
			c.Port, c.BaudRate, c.DataBits, c.Parity, c.StopBits)
	}
	id := fmt.Sprintf("tcp://%s:%d", c.Host, c.TCPPort)
	if c.RTUFraming {
		id += "#rtu"
	}
	return id
}

// timeout returns the per-exchange timeout as a duration.
func (c *TransportConfig) timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
