package wire

import (
	"encoding/binary"
	"time"

	"fleetgate/internal/crc"
)

// voltagePercent maps the 0-6 heartbeat voltage level to a battery
// percentage via the fixed lookup mandated by the protocol.
var voltagePercent = [7]int{0, 10, 25, 40, 60, 80, 100}

// DecodeOptions carries the per-deployment knobs that affect decoding
// without being part of the wire format itself.
type DecodeOptions struct {
	// ForceSouthernHemisphere flips any decoded North latitude to South
	// after normal decoding, for devices known to misreport (§6, §9).
	ForceSouthernHemisphere bool
	// Now supplies the substitute timestamp when a device datetime is
	// invalid. Defaults to time.Now when nil.
	Now func() time.Time
}

func (o DecodeOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Decode parses a single framed packet (START..STOP inclusive, already
// delimited by a framer) into a tagged Packet. CRC mismatches do not abort
// decoding: Decode returns the packet alongside a *CrcMismatchError so the
// caller can log and proceed. Structural failures return ErrMalformed with
// a nil packet.
func Decode(frame []byte, opts DecodeOptions) (Packet, error) {
	if len(frame) < 5+5 {
		return nil, ErrMalformed
	}
	if frame[0] != StartByte1 || frame[1] != StartByte2 {
		return nil, ErrMalformed
	}
	if frame[len(frame)-2] != StopByte1 || frame[len(frame)-1] != StopByte2 {
		return nil, ErrMalformed
	}

	length := int(frame[2])
	if length+5 != len(frame) {
		return nil, ErrMalformed
	}

	proto := frame[3]
	// LEN || PROTO || BODY-without-CRC, i.e. everything between START/STOP
	// except the trailing two CRC bytes.
	checksummed := frame[2 : len(frame)-4]
	body := frame[4 : len(frame)-2] // BODY: payload + serial + CRC

	var crcErr error
	if !crc.Verify(append(append([]byte{}, checksummed...), body[len(body)-2:]...)) {
		crcErr = &CrcMismatchError{Proto: ProtoKind(proto)}
	}

	payload := body[:len(body)-4] // strip trailing serial(2)+crc(2)
	serial := binary.BigEndian.Uint16(body[len(body)-4 : len(body)-2])

	switch ProtoKind(proto) {
	case ProtoLogin:
		pkt, err := decodeLogin(payload, serial)
		if err != nil {
			return nil, err
		}
		return pkt, crcErr
	case ProtoLocation:
		pkt, err := decodeLocation(payload, serial, opts)
		if err != nil {
			return nil, err
		}
		return pkt, crcErr
	case ProtoHeartbeat:
		pkt, err := decodeHeartbeat(payload, serial)
		if err != nil {
			return nil, err
		}
		return pkt, crcErr
	case ProtoCommandReply:
		pkt, err := decodeCommandReply(payload, serial)
		if err != nil {
			return nil, err
		}
		return pkt, crcErr
	case ProtoAlarm:
		pkt, err := decodeAlarm(payload, serial, opts)
		if err != nil {
			return nil, err
		}
		return pkt, crcErr
	default:
		return UnknownPacket{ProtoValue: proto, SerialValue: serial}, crcErr
	}
}

func decodeLogin(payload []byte, serial uint16) (Packet, error) {
	if len(payload) < 8 {
		return nil, ErrMalformed
	}
	var id DeviceIdentity
	copy(id[:], payload[:8])
	return LoginPacket{Identity: id, SerialValue: serial}, nil
}

func decodeDateTime(b []byte, now func() time.Time) (time.Time, bool) {
	year, month, day := int(b[0]), int(b[1]), int(b[2])
	hour, min, sec := int(b[3]), int(b[4]), int(b[5])
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || min > 59 || sec > 59 {
		return now(), false
	}
	return time.Date(2000+year, time.Month(month), day, hour, min, sec, 0, time.UTC), true
}

const gpsBlockLen = 18 // datetime(6) + gps-info(1) + lat(4) + lon(4) + speed(1) + course_status(2)

func decodeGPSBlock(payload []byte, opts DecodeOptions) (Position, error) {
	if len(payload) < gpsBlockLen {
		return Position{}, ErrMalformed
	}
	ts, valid := decodeDateTime(payload[0:6], opts.now)

	gpsInfo := payload[6]
	satellites := gpsInfo & 0x0F // doc-aligned fix: count = low nibble

	rawLat := binary.BigEndian.Uint32(payload[7:11])
	rawLon := binary.BigEndian.Uint32(payload[11:15])
	speed := payload[15]
	courseStatus := binary.BigEndian.Uint16(payload[16:18])

	lat := float64(rawLat) / 1800000.0
	lon := float64(rawLon) / 1800000.0

	courseDeg := courseStatus & 0x03FF
	northLat := courseStatus&(1<<10) != 0
	westLon := courseStatus&(1<<11) != 0
	gpsValid := courseStatus&(1<<12) != 0

	if !northLat {
		lat = -lat
	}
	if westLon {
		lon = -lon
	}
	if opts.ForceSouthernHemisphere && lat > 0 {
		lat = -lat
	}

	return Position{
		Time:            ts,
		TimeSubstituted: !valid,
		Lat:             lat,
		Lon:             lon,
		SpeedKmh:        speed,
		CourseDeg:       courseDeg,
		Satellites:      satellites,
		GPSValid:        gpsValid,
	}, nil
}

func decodeLocation(payload []byte, serial uint16, opts DecodeOptions) (Packet, error) {
	pos, err := decodeGPSBlock(payload, opts)
	if err != nil {
		return nil, err
	}
	return LocationPacket{Position: pos, SerialValue: serial}, nil
}

func decodeHeartbeat(payload []byte, serial uint16) (Packet, error) {
	if len(payload) < 5 {
		return nil, ErrMalformed
	}
	terminalInfo := payload[0]
	voltage := payload[1]
	if voltage > 6 {
		voltage = 6
	}
	gsm := payload[2]
	alarm := payload[3]
	language := binary.BigEndian.Uint16([]byte{0, payload[4]})

	status := DeviceStatus{
		Activated:      terminalInfo&(1<<0) != 0,
		ACCOn:          terminalInfo&(1<<1) != 0,
		Charging:       terminalInfo&(1<<2) != 0,
		TerminalAlarm:  heartbeatAlarmKind((terminalInfo >> 3) & 0x07),
		GPSTracking:    terminalInfo&(1<<6) != 0,
		OilElectricCut: terminalInfo&(1<<7) == 0,
		VoltageLevel:   voltage,
		BatteryPercent: voltagePercent[voltage],
		GSMBars:        gsm,
		Alarm:          AlarmKind(alarm),
		Language:       language,
	}
	return HeartbeatPacket{Status: status, SerialValue: serial}, nil
}

func heartbeatAlarmKind(bits byte) HeartbeatAlarmKind {
	switch bits {
	case 0:
		return HeartbeatAlarmNormal
	case 1:
		return HeartbeatAlarmShock
	case 2:
		return HeartbeatAlarmPowerCut
	case 3:
		return HeartbeatAlarmLowBattery
	case 4:
		return HeartbeatAlarmSOS
	default:
		return HeartbeatAlarmNormal
	}
}

func decodeCommandReply(payload []byte, serial uint16) (Packet, error) {
	if len(payload) < 1 {
		return nil, ErrMalformed
	}
	cmdLen := int(payload[0])
	if cmdLen < 4 || len(payload) < 1+cmdLen+2 {
		return nil, ErrMalformed
	}
	serverFlag := binary.BigEndian.Uint32(payload[1:5])
	content := string(payload[5 : 1+cmdLen])
	language := binary.BigEndian.Uint16(payload[1+cmdLen : 1+cmdLen+2])
	return CommandReplyPacket{
		ServerFlag:  serverFlag,
		Content:     content,
		Language:    language,
		SerialValue: serial,
	}, nil
}

func decodeAlarm(payload []byte, serial uint16, opts DecodeOptions) (Packet, error) {
	pos, err := decodeGPSBlock(payload, opts)
	if err != nil {
		return nil, err
	}
	if len(payload) < gpsBlockLen+1 {
		return nil, ErrMalformed
	}
	lbsLen := int(payload[gpsBlockLen]) // length byte is inclusive of itself
	if lbsLen < 1 {
		return nil, ErrMalformed
	}
	tailStart := gpsBlockLen + lbsLen
	if len(payload) < tailStart+5 {
		return nil, ErrMalformed
	}
	terminalInfo := payload[tailStart]
	voltage := payload[tailStart+1]
	if voltage > 6 {
		voltage = 6
	}
	gsm := payload[tailStart+2]
	alarmKind := payload[tailStart+3]
	language := binary.BigEndian.Uint16([]byte{0, payload[tailStart+4]})

	status := DeviceStatus{
		Activated:      terminalInfo&(1<<0) != 0,
		ACCOn:          terminalInfo&(1<<1) != 0,
		Charging:       terminalInfo&(1<<2) != 0,
		TerminalAlarm:  heartbeatAlarmKind((terminalInfo >> 3) & 0x07),
		GPSTracking:    terminalInfo&(1<<6) != 0,
		OilElectricCut: terminalInfo&(1<<7) == 0,
		VoltageLevel:   voltage,
		BatteryPercent: voltagePercent[voltage],
		GSMBars:        gsm,
		Alarm:          AlarmKind(alarmKind),
		Language:       language,
	}
	return AlarmPacket{Position: pos, Status: status, SerialValue: serial}, nil
}
