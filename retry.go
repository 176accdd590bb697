package modbus

import (
	"fmt"
	"io"
)

// withRetry invokes op up to maxRetries times, re-invoking immediately on
// transient failure (bus-level noise does not benefit from backoff). Each
// failed non-final attempt is reported to logger, if present. The final
// attempt's error is propagated verbatim. maxRetries <= 1 disables retrying.
//
// Device exception responses (*ModbusError) are deterministic rejections and
// short-circuit the loop: retrying "illegal data address" cannot succeed.
func withRetry(maxRetries int, logger io.Writer, op func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt < maxRetries && logger != nil {
			fmt.Fprintf(logger, "WARNING: modbus: attempt %d/%d failed: %v\n", attempt, maxRetries, err)
		}
	}
	return err
}
