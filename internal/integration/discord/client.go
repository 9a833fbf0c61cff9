// Package discord implements a minimal Discord IPC client for Rich
// Presence. It speaks the local socket protocol directly: a length-prefixed
// JSON framing with a handshake opcode followed by command frames.
package discord

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultAppID is the application registered for the host player.
const DefaultAppID = "1464631480251715676"

// Discord rejects activity strings outside this range.
const (
	maxTextLength = 128
	minTextLength = 2
)

// ErrNotConnected is returned by presence calls before Connect succeeds.
var ErrNotConnected = errors.New("discord: not connected")

const (
	opHandshake uint32 = 0
	opFrame     uint32 = 1
	opClose     uint32 = 2
)

// Client is a Rich Presence connection. Connect and Close are idempotent.
type Client struct {
	appID string

	mu   sync.Mutex
	conn net.Conn
}

// NewClient creates a client for the given application ID. An empty appID
// selects DefaultAppID.
func NewClient(appID string) *Client {
	if appID == "" {
		appID = DefaultAppID
	}
	return &Client{appID: appID}
}

// Connect dials the local Discord socket and performs the handshake.
// Calling Connect while connected is a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := dialIPC()
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}

	handshake := map[string]any{"v": 1, "client_id": c.appID}
	if err := writeFrame(conn, opHandshake, handshake); err != nil {
		conn.Close()
		return fmt.Errorf("discord handshake: %w", err)
	}
	if _, err := readFrame(conn); err != nil {
		conn.Close()
		return fmt.Errorf("discord handshake: %w", err)
	}

	c.conn = conn
	return nil
}

// Connected reports whether the client holds a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SetActivity publishes a listening activity. Details and state are
// sanitized to Discord's length constraints before sending.
func (c *Client) SetActivity(details, state string, startUnix int64) error {
	activity := map[string]any{
		"type":    2, // listening
		"details": SanitizeText(details, "Unknown"),
		"state":   SanitizeText(state, "Unknown"),
	}
	if startUnix > 0 {
		activity["timestamps"] = map[string]any{"start": startUnix}
	}
	return c.sendActivity(activity)
}

// ClearActivity removes the published activity.
func (c *Client) ClearActivity() error {
	return c.sendActivity(nil)
}

func (c *Client) sendActivity(activity map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	payload := map[string]any{
		"cmd": "SET_ACTIVITY",
		"args": map[string]any{
			"pid":      os.Getpid(),
			"activity": activity,
		},
		"nonce": uuid.NewString(),
	}
	if err := writeFrame(c.conn, opFrame, payload); err != nil {
		return fmt.Errorf("discord set activity: %w", err)
	}

	// Discord acks every frame; a failed read here is logged by callers but
	// does not invalidate the connection.
	if _, err := readFrame(c.conn); err != nil {
		return fmt.Errorf("discord ack: %w", err)
	}
	return nil
}

// Close tears down the connection. Closing a disconnected client is a
// no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	_ = writeFrame(c.conn, opClose, map[string]any{})
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SanitizeText trims and bounds a presence string. Empty input falls back,
// then to "Unknown"; long input is truncated with an ellipsis; short input
// is padded to Discord's two-character minimum.
func SanitizeText(input, fallback string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		fb := strings.TrimSpace(fallback)
		if fb == "" {
			return "Unknown"
		}
		return SanitizeText(fb, "Unknown")
	}

	result := trimmed
	if len(result) > maxTextLength {
		// Back up to a rune start so the cut never splits a multi-byte
		// character.
		cut := maxTextLength - 3
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut] + "..."
	}
	if len(result) < minTextLength {
		result += " "
	}
	return result
}

// dialIPC tries the well-known local socket paths.
func dialIPC() (net.Conn, error) {
	var dirs []string
	for _, env := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if dir := os.Getenv(env); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	dirs = append(dirs, "/tmp")

	for _, dir := range dirs {
		for i := 0; i < 10; i++ {
			path := fmt.Sprintf("%s/discord-ipc-%d", dir, i)
			conn, err := net.DialTimeout("unix", path, time.Second)
			if err == nil {
				return conn, nil
			}
		}
	}
	return nil, errors.New("no running Discord client found")
}

// writeFrame encodes one little-endian (opcode, length, json) frame.
func writeFrame(conn net.Conn, opcode uint32, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], opcode)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

// readFrame reads one frame and returns its payload.
func readFrame(conn net.Conn) ([]byte, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[4:8])
	if length > 1<<20 {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
