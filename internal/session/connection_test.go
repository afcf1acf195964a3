package session

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"fleetgate/internal/crc"
	"fleetgate/internal/registry"
	"fleetgate/internal/wire"
)

func buildFrame(t *testing.T, proto byte, payload []byte, serial uint16) []byte {
	t.Helper()
	checksummed := []byte{byte(1 + len(payload) + 4), proto}
	checksummed = append(checksummed, payload...)
	checksummed = binary.BigEndian.AppendUint16(checksummed, serial)
	sum := crc.Checksum(checksummed)

	frame := []byte{wire.StartByte1, wire.StartByte2}
	frame = append(frame, checksummed...)
	frame = binary.BigEndian.AppendUint16(frame, sum)
	frame = append(frame, wire.StopByte1, wire.StopByte2)
	return frame
}

func identityBytes(s string) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = hexByte(s[i*2])<<4 | hexByte(s[i*2+1])
	}
	return b
}

func hexByte(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	header := make([]byte, 3)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("reading header: %v", err)
	}
	length := int(header[2])
	rest := make([]byte, length+2)
	if _, err := readFull(conn, rest); err != nil {
		t.Fatalf("reading rest: %v", err)
	}
	return append(header, rest...)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestLoginRegistersAndAcks(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	reg := registry.New()
	st := newFakeStore()
	conn := New(server, reg, st, nil, wire.DecodeOptions{})

	done := make(chan error, 1)
	go func() { done <- conn.Serve(context.Background()) }()

	loginFrame := buildFrame(t, byte(wire.ProtoLogin), identityBytes("0123456789012345"), 1)
	if _, err := client.Write(loginFrame); err != nil {
		t.Fatalf("write login: %v", err)
	}

	ack := readFrame(t, client)
	if ack[2] != 0x05 {
		t.Fatalf("ack length = %d, want 5", ack[2])
	}
	if ack[3] != byte(wire.ProtoLogin) {
		t.Fatalf("ack proto = %#x, want Login", ack[3])
	}

	var id wire.DeviceIdentity
	copy(id[:], identityBytes("0123456789012345"))
	if _, ok := reg.Lookup(id); !ok {
		t.Fatalf("expected device registered after login")
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after client closed")
	}
}

func TestUnauthenticatedLocationDropped(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	reg := registry.New()
	st := newFakeStore()
	conn := New(server, reg, st, nil, wire.DecodeOptions{})

	go conn.Serve(context.Background())

	payload := make([]byte, 18)
	locFrame := buildFrame(t, byte(wire.ProtoLocation), payload, 1)
	if _, err := client.Write(locFrame); err != nil {
		t.Fatalf("write location: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 16)
	if _, err := client.Read(buf); err == nil {
		t.Fatalf("expected no ACK for unauthenticated traffic")
	}
}

func TestCommandRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	reg := registry.New()
	st := newFakeStore()
	conn := New(server, reg, st, nil, wire.DecodeOptions{})
	go conn.Serve(context.Background())

	loginFrame := buildFrame(t, byte(wire.ProtoLogin), identityBytes("0123456789012345"), 1)
	client.Write(loginFrame)
	readFrame(t, client) // login ACK

	resultCh := make(chan struct {
		reply string
		flag  uint32
		err   error
	}, 1)
	go func() {
		reply, flag, err := conn.SendCommand(context.Background(), "STATUS#", time.Second)
		resultCh <- struct {
			reply string
			flag  uint32
			err   error
		}{reply, flag, err}
	}()

	cmdFrame := readFrame(t, client)
	if cmdFrame[3] != byte(wire.ProtoServerCommand) {
		t.Fatalf("expected outbound ServerCommand frame, got proto %#x", cmdFrame[3])
	}
	serverFlag := binary.BigEndian.Uint32(cmdFrame[5:9])

	replyPayload := make([]byte, 0)
	content := "Battery=80%"
	replyPayload = append(replyPayload, byte(4+len(content)))
	replyPayload = binary.BigEndian.AppendUint32(replyPayload, serverFlag)
	replyPayload = append(replyPayload, content...)
	replyPayload = binary.BigEndian.AppendUint16(replyPayload, 0)
	replyFrame := buildFrame(t, byte(wire.ProtoCommandReply), replyPayload, 2)
	client.Write(replyFrame)

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("SendCommand error: %v", res.err)
		}
		if res.reply != content {
			t.Fatalf("reply = %q, want %q", res.reply, content)
		}
		if res.flag != serverFlag {
			t.Fatalf("flag = %#x, want %#x", res.flag, serverFlag)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("SendCommand did not return")
	}
}

func TestCommandTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	reg := registry.New()
	st := newFakeStore()
	conn := New(server, reg, st, nil, wire.DecodeOptions{})
	go conn.Serve(context.Background())

	loginFrame := buildFrame(t, byte(wire.ProtoLogin), identityBytes("0123456789012345"), 1)
	client.Write(loginFrame)
	readFrame(t, client)

	go readFrame(t, client) // drain the outbound command frame

	_, _, err := conn.SendCommand(context.Background(), "STATUS#", 50*time.Millisecond)
	if err != ErrCommandTimeout {
		t.Fatalf("err = %v, want ErrCommandTimeout", err)
	}
}

func TestSupersedeResolvesPendingWaiter(t *testing.T) {
	clientA, serverA := net.Pipe()
	defer clientA.Close()
	clientB, serverB := net.Pipe()
	defer clientB.Close()

	reg := registry.New()
	st := newFakeStore()
	connA := New(serverA, reg, st, nil, wire.DecodeOptions{})
	connB := New(serverB, reg, st, nil, wire.DecodeOptions{})

	go connA.Serve(context.Background())
	go connB.Serve(context.Background())

	loginFrame := buildFrame(t, byte(wire.ProtoLogin), identityBytes("0123456789012345"), 1)
	clientA.Write(loginFrame)
	readFrame(t, clientA)

	resultCh := make(chan error, 1)
	go func() {
		_, _, err := connA.SendCommand(context.Background(), "STATUS#", 5*time.Second)
		resultCh <- err
	}()
	readFrame(t, clientA) // the outbound command frame on A

	clientB.Write(loginFrame) // same identity, supersedes A
	readFrame(t, clientB)

	select {
	case err := <-resultCh:
		if err != ErrSuperseded {
			t.Fatalf("err = %v, want ErrSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending command on superseded connection did not resolve")
	}
}
