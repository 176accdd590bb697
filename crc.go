package modbus

// CRC16 calculates the Modbus CRC16 checksum (polynomial 0xA001, initial
// value 0xFFFF, LSB-first bit processing). The returned value is appended to
// RTU frames low byte first.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if (crc & 0x0001) != 0 {
				crc >>= 1
				crc ^= 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendCRC appends the CRC of frame to frame, low byte first.
func AppendCRC(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc&0xFF), byte((crc>>8)&0xFF))
}

// VerifyCRC recomputes the CRC over all bytes of frame except the trailing
// two and compares it against the trailing little-endian CRC field.
func VerifyCRC(frame []byte) bool {
	if len(frame) < MinRTUFrameLength {
		return false
	}
	dataLen := len(frame) - 2
	calculated := CRC16(frame[:dataLen])
	received := uint16(frame[dataLen]) | (uint16(frame[dataLen+1]) << 8)
	return calculated == received
}
