package gateway

import (
	"bufio"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// tcpTransport frames lines with '\n' over a stream connection.
type tcpTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// NewTCPTransport wraps a stream connection. Lines longer than maxLine bytes
// end the connection with bufio.ErrTooLong.
func NewTCPTransport(conn net.Conn, maxLine int) Transport {
	scanner := bufio.NewScanner(conn)
	if maxLine > 0 {
		scanner.Buffer(make([]byte, 0, min(maxLine, 4096)), maxLine)
	}
	return &tcpTransport{conn: conn, scanner: scanner}
}

func (t *tcpTransport) ReadLine() (string, error) {
	if t.scanner.Scan() {
		return strings.TrimRight(t.scanner.Text(), "\r"), nil
	}
	if err := t.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (t *tcpTransport) WriteLine(line string, deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := io.WriteString(t.conn, line+"\n")
	return err
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// wsTransport carries one line per text frame.
type wsTransport struct {
	conn *websocket.Conn
}

// NewWebSocketTransport wraps an upgraded websocket connection.
func NewWebSocketTransport(conn *websocket.Conn, maxMessageSize int64) Transport {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadLine() (string, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "", io.EOF
			}
			return "", err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (t *wsTransport) WriteLine(line string, deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
