package protocol

import "github.com/sigurn/crc8"

// crcTable is the CRC-8/MAXIM table (polynomial 0x31 reflected, initial
// value 0x00). This is the checksum the stimulator applies over the frame
// body; it must match bit-exactly or the device rejects the frame outright.
var crcTable = crc8.MakeTable(crc8.CRC8_MAXIM)

// Checksum computes the CRC-8/MAXIM checksum of a frame body
// (command ID plus payload, excluding SOF, LEN, CRC and EOF).
func Checksum(body []byte) byte {
	return crc8.Checksum(body, crcTable)
}
