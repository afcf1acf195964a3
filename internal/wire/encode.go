package wire

import (
	"encoding/binary"

	"fleetgate/internal/crc"
)

// EncodeAck builds the 5-byte-body acknowledgement frame for an inbound
// packet, echoing its protocol byte and serial.
func EncodeAck(proto ProtoKind, serial uint16) []byte {
	// checksummed = LEN | PROTO | serial
	checksummed := make([]byte, 0, 4)
	checksummed = append(checksummed, 0x05, byte(proto))
	checksummed = binary.BigEndian.AppendUint16(checksummed, serial)

	sum := crc.Checksum(checksummed)

	frame := make([]byte, 0, 10)
	frame = append(frame, StartByte1, StartByte2)
	frame = append(frame, checksummed...)
	frame = binary.BigEndian.AppendUint16(frame, sum)
	frame = append(frame, StopByte1, StopByte2)
	return frame
}

// EncodeCommand builds an outbound ServerCommand(0x80) frame carrying an
// opaque server_flag correlation value and ASCII content. serial is the
// connection's own monotonic command serial.
func EncodeCommand(serverFlag uint32, content string, serial uint16) []byte {
	cmdLen := byte(4 + len(content))
	length := byte(10 + len(content))

	checksummed := make([]byte, 0, 2+1+4+len(content)+2)
	checksummed = append(checksummed, length, byte(ProtoServerCommand), cmdLen)
	checksummed = binary.BigEndian.AppendUint32(checksummed, serverFlag)
	checksummed = append(checksummed, content...)
	checksummed = binary.BigEndian.AppendUint16(checksummed, serial)

	sum := crc.Checksum(checksummed)

	frame := make([]byte, 0, len(checksummed)+6)
	frame = append(frame, StartByte1, StartByte2)
	frame = append(frame, checksummed...)
	frame = binary.BigEndian.AppendUint16(frame, sum)
	frame = append(frame, StopByte1, StopByte2)
	return frame
}
