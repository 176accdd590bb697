package modbus

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// newSharedTransports wires n slave-bound transports onto one shared client
// and lock, the way the pool does for one connection identity.
func newSharedTransports(transporter Transporter, maxRetries int, slaveIDs ...uint8) []*Transport {
	client := NewClient(transporter, nil)
	mu := &sync.Mutex{}
	transports := make([]*Transport, 0, len(slaveIDs))
	for _, id := range slaveIDs {
		transports = append(transports, newTransport(id, client, mu, maxRetries, nil))
	}
	return transports
}

func TestTransport_Operations(t *testing.T) {
	transports := newSharedTransports(&fakeTransporter{respond: echoSlave}, 1, 5)
	tr := transports[0]

	if _, err := tr.ReadCoils(0, 8); err != nil {
		t.Errorf("ReadCoils failed: %v", err)
	}
	if _, err := tr.ReadDiscreteInputs(0, 8); err != nil {
		t.Errorf("ReadDiscreteInputs failed: %v", err)
	}
	if _, err := tr.ReadHoldingRegisters(0, 1); err != nil {
		t.Errorf("ReadHoldingRegisters failed: %v", err)
	}
	if _, err := tr.ReadInputRegisters(0, 1); err != nil {
		t.Errorf("ReadInputRegisters failed: %v", err)
	}
	if err := tr.WriteSingleRegister(0, 1); err != nil {
		t.Errorf("WriteSingleRegister failed: %v", err)
	}
	if err := tr.WriteSingleCoil(0, true); err != nil {
		t.Errorf("WriteSingleCoil failed: %v", err)
	}
	if err := tr.WriteMultipleRegisters(0, []byte{0x00, 0x01}); err != nil {
		t.Errorf("WriteMultipleRegisters failed: %v", err)
	}
	if err := tr.WriteMultipleCoils(0, []byte{0x05}); err != nil {
		t.Errorf("WriteMultipleCoils failed: %v", err)
	}
	if _, err := tr.ExecuteRaw([]byte{FuncCodeReadCoils, 0x00, 0x00, 0x00, 0x01}); err != nil {
		t.Errorf("ExecuteRaw failed: %v", err)
	}
}

// Operations on transports sharing one physical connection must execute in
// strict first-come-first-served order with no overlap.
func TestTransport_SerializationInvariant(t *testing.T) {
	slave := &slowSlave{delay: 5 * time.Millisecond}
	transports := newSharedTransports(&fakeTransporter{respond: slave.respond}, 1, 1, 2, 3, 4)

	var wg sync.WaitGroup
	for _, tr := range transports {
		wg.Add(1)
		go func(tr *Transport) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				if _, err := tr.ReadHoldingRegisters(0, 1); err != nil {
					t.Errorf("ReadHoldingRegisters failed: %v", err)
				}
			}
		}(tr)
	}
	wg.Wait()

	slave.mu.Lock()
	defer slave.mu.Unlock()
	for i := 0; i < len(slave.windows); i++ {
		for j := i + 1; j < len(slave.windows); j++ {
			a, b := slave.windows[i], slave.windows[j]
			if a[1].After(b[0]) && b[1].After(a[0]) {
				t.Fatalf("operations overlapped: [%v, %v] and [%v, %v]",
					a[0], a[1], b[0], b[1])
			}
		}
	}
}

// The addressed unit ID must match the transport that holds the lock even
// when many transports interleave on one client.
func TestTransport_AddressingUnderContention(t *testing.T) {
	var mu sync.Mutex
	mismatches := 0
	var currentUnit uint8

	recorder := func(frame []byte) ([]byte, error) {
		mu.Lock()
		if frame[0] != currentUnit {
			mismatches++
		}
		mu.Unlock()
		return echoSlave(frame)
	}

	client := NewClient(&fakeTransporter{respond: recorder}, nil)
	busLock := &sync.Mutex{}

	var wg sync.WaitGroup
	for id := uint8(1); id <= 8; id++ {
		tr := newTransport(id, client, busLock, 1, nil)
		wg.Add(1)
		go func(tr *Transport, id uint8) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				// Record which unit should be addressed; the bus lock makes
				// the write and the subsequent exchange atomic.
				tr.mu.Lock()
				tr.client.SetSlaveID(tr.slaveID)
				mu.Lock()
				currentUnit = id
				mu.Unlock()
				_, err := tr.client.ReadCoils(0, 1)
				tr.mu.Unlock()
				if err != nil {
					t.Errorf("ReadCoils failed: %v", err)
				}
			}
		}(tr, id)
	}
	wg.Wait()

	if mismatches != 0 {
		t.Errorf("%d exchanges carried a stale unit ID", mismatches)
	}
}

func TestTransport_RetriesTransientFault(t *testing.T) {
	attempts := 0
	flaky := func(frame []byte) ([]byte, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("modbus rtu: read error: noise burst")
		}
		return echoSlave(frame)
	}
	transports := newSharedTransports(&fakeTransporter{respond: flaky}, 3, 1)

	if _, err := transports[0].ReadHoldingRegisters(0, 1); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestTransport_ExceptionPropagatesImmediately(t *testing.T) {
	attempts := 0
	reject := func(frame []byte) ([]byte, error) {
		attempts++
		return []byte{frame[0], frame[1] | 0x80, ExceptionIllegalDataAddress}, nil
	}
	transports := newSharedTransports(&fakeTransporter{respond: reject}, 5, 1)

	_, err := transports[0].ReadHoldingRegisters(0xFFFF, 1)
	var me *ModbusError
	if !errors.As(err, &me) {
		t.Fatalf("expected *ModbusError, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("exception responses must not be retried: got %d attempts", attempts)
	}
}

func TestTransport_CloseDoesNotCloseSharedClient(t *testing.T) {
	fake := &fakeTransporter{respond: echoSlave}
	transports := newSharedTransports(fake, 1, 1, 2)

	if err := transports[0].Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if fake.closes != 0 {
		t.Errorf("closing a handle must not close the shared client: %d closes", fake.closes)
	}

	// The sibling transport keeps working after a handle close.
	if _, err := transports[1].ReadCoils(0, 1); err != nil {
		t.Errorf("sibling transport broken after handle close: %v", err)
	}
}
