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

// Standard Modbus function codes supported by this client core.
const (
	FuncCodeReadCoils              uint8 = 0x01
	FuncCodeReadDiscreteInputs     uint8 = 0x02
	FuncCodeReadHoldingRegisters   uint8 = 0x03
	FuncCodeReadInputRegisters     uint8 = 0x04
	FuncCodeWriteSingleCoil        uint8 = 0x05
	FuncCodeWriteSingleRegister    uint8 = 0x06
	FuncCodeWriteMultipleCoils     uint8 = 0x0F
	FuncCodeWriteMultipleRegisters uint8 = 0x10
)

// Modbus exception codes returned in exception responses.
const (
	ExceptionIllegalFunction    uint8 = 0x01
	ExceptionIllegalDataAddress uint8 = 0x02
	ExceptionIllegalDataValue   uint8 = 0x03
	ExceptionSlaveDeviceFailure uint8 = 0x04
	ExceptionAcknowledge        uint8 = 0x05
	ExceptionSlaveDeviceBusy    uint8 = 0x06
	ExceptionMemoryParityError  uint8 = 0x08
	ExceptionGatewayPath        uint8 = 0x0A
	ExceptionGatewayTarget      uint8 = 0x0B
)

// Modbus TCP (MBAP) protocol constants.
const (
	ProtocolIdentifierTCP uint16 = 0x0000

	TCPHeaderLength   = 7                              // MBAP header length in bytes
	MaxPDULength      = 253                            // Maximum PDU length according to Modbus spec
	MaxTCPFrameLength = TCPHeaderLength + MaxPDULength // Maximum complete frame length
	MaxRTUFrameLength = 256                            // SlaveID + PDU + CRC
	MinRTUFrameLength = 4                              // SlaveID + FuncCode + CRC
)

// Unit/slave ID range. 0 is reserved for broadcast, 248-255 are reserved
// by the Modbus spec.
const (
	MinSlaveID uint8 = 1
	MaxSlaveID uint8 = 247
)

// The value written for an energized coil with function code 0x05.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// getExceptionMessage returns a human-readable message for a Modbus exception code.
func getExceptionMessage(exceptionCode uint8) string {
	switch exceptionCode {
	case ExceptionIllegalFunction:
		return "Illegal function"
	case ExceptionIllegalDataAddress:
		return "Illegal data address"
	case ExceptionIllegalDataValue:
		return "Illegal data value"
	case ExceptionSlaveDeviceFailure:
		return "Slave device failure"
	case ExceptionAcknowledge:
		return "Acknowledge"
	case ExceptionSlaveDeviceBusy:
		return "Slave device busy"
	case ExceptionMemoryParityError:
		return "Memory parity error"
	case ExceptionGatewayPath:
		return "Gateway path unavailable"
	case ExceptionGatewayTarget:
		return "Gateway target device failed to respond"
	default:
		return "Unknown exception code"
	}
}
