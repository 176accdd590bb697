package modbus

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransporter scripts Exchange behavior for tests and counts closes.
type fakeTransporter struct {
	respond func(frame []byte) ([]byte, error)
	closes  int
}

func (f *fakeTransporter) Exchange(frame []byte) ([]byte, error) {
	return f.respond(frame)
}

func (f *fakeTransporter) Close() error {
	f.closes++
	return nil
}

// echoSlave answers like a well-behaved device: reads return a deterministic
// payload, writes echo the request header.
func echoSlave(frame []byte) ([]byte, error) {
	unitID, funcCode := frame[0], frame[1]
	switch funcCode {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		quantity := binary.BigEndian.Uint16(frame[4:6])
		byteCount := (int(quantity) + 7) / 8
		resp := make([]byte, 3+byteCount)
		resp[0], resp[1], resp[2] = unitID, funcCode, byte(byteCount)
		for i := 0; i < byteCount; i++ {
			resp[3+i] = 0x55
		}
		return resp, nil
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		quantity := binary.BigEndian.Uint16(frame[4:6])
		byteCount := int(quantity) * 2
		resp := make([]byte, 3+byteCount)
		resp[0], resp[1], resp[2] = unitID, funcCode, byte(byteCount)
		for i := 0; i < int(quantity); i++ {
			binary.BigEndian.PutUint16(resp[3+2*i:], 0xABCD)
		}
		return resp, nil
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		resp := make([]byte, 6)
		copy(resp, frame[:6])
		return resp, nil
	default:
		return []byte{unitID, funcCode | 0x80, ExceptionIllegalFunction}, nil
	}
}

func TestClient_ReadHoldingRegisters(t *testing.T) {
	client := NewClient(&fakeTransporter{respond: echoSlave}, nil)
	client.SetSlaveID(9)

	data, err := client.ReadHoldingRegisters(0, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	assertBytesEqual(t, []byte{0xAB, 0xCD, 0xAB, 0xCD}, data)
}

func TestClient_ReadCoils(t *testing.T) {
	client := NewClient(&fakeTransporter{respond: echoSlave}, nil)
	client.SetSlaveID(1)

	data, err := client.ReadCoils(0, 12)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	assertBytesEqual(t, []byte{0x55, 0x55}, data)
}

func TestClient_Writes(t *testing.T) {
	client := NewClient(&fakeTransporter{respond: echoSlave}, nil)
	client.SetSlaveID(3)

	if err := client.WriteSingleRegister(10, 0x1234); err != nil {
		t.Errorf("WriteSingleRegister failed: %v", err)
	}
	if err := client.WriteSingleCoil(4, true); err != nil {
		t.Errorf("WriteSingleCoil failed: %v", err)
	}
	if err := client.WriteMultipleRegisters(0, []byte{0x00, 0x01, 0x00, 0x02}); err != nil {
		t.Errorf("WriteMultipleRegisters failed: %v", err)
	}
	if err := client.WriteMultipleCoils(0, packCoils([]bool{true, false, true})); err != nil {
		t.Errorf("WriteMultipleCoils failed: %v", err)
	}
}

func TestClient_ExceptionSurfaced(t *testing.T) {
	exception := func(frame []byte) ([]byte, error) {
		return []byte{frame[0], frame[1] | 0x80, ExceptionSlaveDeviceBusy}, nil
	}
	client := NewClient(&fakeTransporter{respond: exception}, nil)
	client.SetSlaveID(1)

	_, err := client.ReadInputRegisters(0, 1)
	var me *ModbusError
	if !errors.As(err, &me) {
		t.Fatalf("expected *ModbusError, got %v", err)
	}
	if me.ExceptionCode != ExceptionSlaveDeviceBusy {
		t.Errorf("exception code: got %02X, expected %02X", me.ExceptionCode, ExceptionSlaveDeviceBusy)
	}
}

func TestClient_WriteEchoMismatch(t *testing.T) {
	wrongEcho := func(frame []byte) ([]byte, error) {
		resp := make([]byte, 6)
		copy(resp, frame[:6])
		resp[3]++ // corrupt the echoed address
		return resp, nil
	}
	client := NewClient(&fakeTransporter{respond: wrongEcho}, nil)
	client.SetSlaveID(1)

	err := client.WriteSingleRegister(10, 0x1234)
	var fe *FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FrameError for echo mismatch, got %v", err)
	}
}

func TestClient_ExecuteRaw(t *testing.T) {
	client := NewClient(&fakeTransporter{respond: echoSlave}, nil)
	client.SetSlaveID(2)

	resp, err := client.ExecuteRaw([]byte{FuncCodeReadHoldingRegisters, 0x00, 0x00, 0x00, 0x01})
	if err != nil {
		t.Fatalf("ExecuteRaw failed: %v", err)
	}
	assertBytesEqual(t, []byte{0x03, 0x02, 0xAB, 0xCD}, resp)
}

func TestClient_RequestCarriesSlaveID(t *testing.T) {
	var seen []uint8
	recorder := func(frame []byte) ([]byte, error) {
		seen = append(seen, frame[0])
		return echoSlave(frame)
	}
	client := NewClient(&fakeTransporter{respond: recorder}, nil)

	client.SetSlaveID(7)
	if _, err := client.ReadCoils(0, 1); err != nil {
		t.Fatal(err)
	}
	client.SetSlaveID(11)
	if err := client.WriteSingleRegister(0, 1); err != nil {
		t.Fatal(err)
	}

	if len(seen) != 2 || seen[0] != 7 || seen[1] != 11 {
		t.Errorf("requests carried wrong unit IDs: %v", seen)
	}
}

// slowSlave wraps echoSlave with a fixed service time and records the start
// and end instant of every exchange.
type slowSlave struct {
	mu      sync.Mutex
	windows [][2]time.Time
	delay   time.Duration
}

func (s *slowSlave) respond(frame []byte) ([]byte, error) {
	start := time.Now()
	time.Sleep(s.delay)
	resp, err := echoSlave(frame)
	end := time.Now()

	s.mu.Lock()
	s.windows = append(s.windows, [2]time.Time{start, end})
	s.mu.Unlock()
	return resp, err
}
