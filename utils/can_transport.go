package utils

import (
	"context"
	"fmt"
	"io"
	"net"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// CANReader blocks until the next frame arrives.
type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// SocketCANReader receives frames from a SocketCAN interface. The socket is
// closed when the dial context ends, which unblocks a pending ReadFrame.
type SocketCANReader struct {
	conn net.Conn
	recv *socketcan.Receiver
}

func NewSocketCANReader(ctx context.Context, iface string) (*SocketCANReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	return &SocketCANReader{
		conn: conn,
		recv: socketcan.NewReceiver(conn),
	}, nil
}

func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	if err := ctx.Err(); err != nil {
		return can.Frame{}, err
	}
	if !r.recv.Receive() {
		if ctx.Err() != nil {
			return can.Frame{}, ctx.Err()
		}
		if err := r.recv.Err(); err != nil {
			return can.Frame{}, fmt.Errorf("socketcan receive: %w", err)
		}
		return can.Frame{}, io.EOF
	}
	return r.recv.Frame(), nil
}

func (r *SocketCANReader) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
