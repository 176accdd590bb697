package modbus

import (
	"errors"
	"fmt"
)

// ModbusError represents an exception response from a slave device: the
// request was well-formed and delivered, and the device deterministically
// rejected it. It is never retried by the retry policy.
type ModbusError struct {
	FunctionCode  uint8 // Original function code (high bit cleared)
	ExceptionCode uint8
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception response for func %02X: code 0x%02X - %s",
		e.FunctionCode, e.ExceptionCode, getExceptionMessage(e.ExceptionCode))
}

// FrameError represents a response whose framing did not match expectations:
// wrong byte count, wrong echoed function code, CRC mismatch, MBAP header
// violation. Framing faults are usually caused by bus noise and are retried.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string {
	return "modbus: " + e.Reason
}

func frameErrorf(format string, v ...interface{}) *FrameError {
	return &FrameError{Reason: fmt.Sprintf(format, v...)}
}

// ConnectionError reports that a physical client could not be opened or has
// become unusable. It is fatal for that connection identity until corrected
// and is never retried by this core.
type ConnectionError struct {
	Identity string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("modbus: connection failed for %s: %v", e.Identity, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// isRetryable classifies an operation error for the retry policy. Device
// exception responses are deterministic rejections: retrying "illegal data
// address" cannot succeed, so they propagate immediately. Everything else
// (timeouts, resets, CRC/framing faults) is treated as transient bus noise.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var me *ModbusError
	return !errors.As(err, &me)
}
