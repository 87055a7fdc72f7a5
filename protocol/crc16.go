package protocol

// CRC16 calculates the CRC-16/MCRF4XX checksum (poly 0x1021 reflected,
// init 0xFFFF) used for readout fingerprints and the status block trailer.
func CRC16(data []byte) uint16 {
	return CRC16Update(0xFFFF, data)
}

// CRC16Update continues a checksum over more data.
func CRC16Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		b = b ^ uint8(crc&0xFF)
		b = b ^ (b << 4)
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}
