// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/nodeconfig"
	"github.com/Thermoquad/vscpnode/pkg/vscp/frame"
	"github.com/Thermoquad/vscpnode/pkg/vscp/transport"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

const (
	passwordEnv      = "VSCP_PASSWORD"
	handshakeTimeout = 10 * time.Second
	dialTimeout      = 15 * time.Second
)

// Connection is the byte stream carrying VSCP frames, either a serial CAN
// adapter or a WebSocket bridge.
type Connection interface {
	io.ReadWriteCloser
}

// ErrConnectionClosed is returned by reads after the bridge connection failed.
var ErrConnectionClosed = errors.New("websocket connection closed")

// wsStream presents a WebSocket bridge as a byte stream. Binary messages
// are read back to back; text messages are bridge status and skipped.
type wsStream struct {
	conn   *websocket.Conn
	cur    io.Reader
	closed bool
}

func (w *wsStream) Read(p []byte) (int, error) {
	for {
		if w.closed {
			return 0, ErrConnectionClosed
		}
		if w.cur == nil {
			kind, r, err := w.conn.NextReader()
			if err != nil {
				w.closed = true
				return 0, err
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			w.cur = r
		}

		n, err := w.cur.Read(p)
		if errors.Is(err, io.EOF) {
			w.cur = nil
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
}

// Write sends p as one binary message. Every encoded frame goes out whole.
func (w *wsStream) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsStream) Close() error {
	w.closed = true
	return w.conn.Close()
}

func openSerial(name string, baud int) (Connection, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return port, nil
}

func dialBridge(rawURL, username, password string, insecure bool) (Connection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	switch u.Scheme {
	case "ws":
	case "wss":
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure}
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	header := http.Header{}
	if username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		header.Set("Authorization", "Basic "+token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge handshake failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge handshake failed: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

// readPassword takes the bridge password from VSCP_PASSWORD, then from the
// terminal without echo, then as a plain line from in.
func readPassword(in *os.File) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	if fd := int(in.Fd()); term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens the link named by --url or --port. The string
// describes it for the banner.
func OpenConnection() (Connection, string, error) {
	switch {
	case wsURL != "":
		var password string
		if wsUsername != "" {
			pw, err := readPassword(os.Stdin)
			if err != nil {
				return nil, "", err
			}
			password = pw
		}
		conn, err := dialBridge(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, "WebSocket: " + wsURL, nil

	case portName != "":
		conn, err := openSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}
	return nil, "", errors.New("either --port or --url must be specified")
}

// selectCodec returns the framing named by --framing, falling back to the
// node configuration and then to binary framing.
func selectCodec(cfg *nodeconfig.Config) (frame.Codec, error) {
	if framing != "" {
		if cfg == nil {
			return frame.ByName(framing)
		}
		cfg.Link.Framing = framing
	}
	if cfg == nil {
		return frame.Binary{}, nil
	}
	return cfg.Codec()
}

// OpenLink opens the connection and starts a stream adapter on it.
func OpenLink(codec frame.Codec, opts ...transport.StreamOption) (*transport.StreamAdapter, string, error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, "", err
	}

	link, err := transport.NewStreamAdapter(conn, codec, opts...)
	if err != nil {
		conn.Close()
		return nil, "", err
	}
	return link, fmt.Sprintf("%s (%s framing)", connInfo, codec.Name()), nil
}
