package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
)

const (
	// Time allowed to write a control message to the device.
	wsWriteWait = 10 * time.Second

	// Time allowed to read the next pong or frame from the device.
	wsReadWait = 60 * time.Second

	// Maximum frame size accepted from the device.
	wsMaxFrameSize = 512 * 1024
)

// WebSocketDevice captures PCM frames from a bedside microphone device that
// streams binary little-endian 16-bit PCM over WebSocket.
type WebSocketDevice struct {
	url        string
	sampleRate int
	logger     *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	stopped bool
	frames  chan []int16
}

var _ repositories.CaptureDevice = (*WebSocketDevice)(nil)

// NewWebSocketDevice creates a device that will dial the given ws:// URL.
func NewWebSocketDevice(url string, sampleRate int, logger *zap.Logger) *WebSocketDevice {
	return &WebSocketDevice{
		url:        url,
		sampleRate: sampleRate,
		logger:     logger,
		frames:     make(chan []int16, 16),
	}
}

// Start dials the device and begins receiving frames. A refused or failed
// dial is a capture-unavailable condition.
func (d *WebSocketDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("capture already started")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return &repositories.CaptureUnavailableError{Err: err}
	}
	d.conn = conn
	d.started = true

	conn.SetReadLimit(wsMaxFrameSize)
	conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		return nil
	})

	go d.readPump(ctx)

	d.logger.Info("Connected to audio device", zap.String("url", d.url))
	return nil
}

// Frames returns the capture channel; closed when the device stops.
func (d *WebSocketDevice) Frames() <-chan []int16 {
	return d.frames
}

// SampleRate returns the device sample rate.
func (d *WebSocketDevice) SampleRate() int {
	return d.sampleRate
}

// Stop sends a close message and releases the connection. Idempotent.
func (d *WebSocketDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.conn == nil {
		d.stopped = true
		return nil
	}
	d.stopped = true

	d.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	d.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return d.conn.Close()
}

// readPump pumps binary PCM frames from the device into the frames channel.
func (d *WebSocketDevice) readPump(ctx context.Context) {
	defer close(d.frames)

	for {
		messageType, payload, err := d.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !d.isStopped() {
				d.logger.Error("Audio device connection error", zap.Error(err))
			}
			return
		}
		d.conn.SetReadDeadline(time.Now().Add(wsReadWait))

		if messageType != websocket.BinaryMessage {
			d.logger.Debug("Ignoring non-binary device message", zap.Int("type", messageType))
			continue
		}

		frame := make([]int16, len(payload)/2)
		for i := range frame {
			frame[i] = int16(binary.LittleEndian.Uint16(payload[i*2 : i*2+2]))
		}

		select {
		case d.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (d *WebSocketDevice) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}
