package server

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"mediadedup/internal/scan"
)

// Minimal WebSocket implementation, no external dependencies. Only
// server-to-client text frames matter here: clients subscribe to the
// scan progress stream and send the occasional ping.

const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

type wsConn struct {
	conn   net.Conn
	closed bool
	mu     sync.Mutex
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgradeWebSocket(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws := &wsConn{conn: conn}

	s.mu.Lock()
	s.clients[ws] = true
	s.mu.Unlock()

	defer func() {
		ws.close()
		s.mu.Lock()
		delete(s.clients, ws)
		s.mu.Unlock()
	}()

	ws.sendText(`{"type":"connected"}`)

	// Catch the subscriber up with the current state
	if sess := s.scanner.Active(); sess != nil && !sess.Terminal() {
		if data, err := json.Marshal(sess.Snapshot()); err == nil {
			ws.sendText(string(data))
		}
	}

	// Read loop: pings and close detection
	reader := bufio.NewReader(conn)
	for {
		msg, err := readWSMessage(reader)
		if err != nil {
			break
		}
		if strings.Contains(string(msg), `"type":"ping"`) {
			ws.sendText(`{"type":"pong"}`)
		}
	}
}

// broadcast sends a progress snapshot to every connected client.
// A client that cannot be written to is dropped.
func (s *Server) broadcast(snap scan.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}

	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.clients))
	for ws := range s.clients {
		conns = append(conns, ws)
	}
	s.mu.Unlock()

	for _, ws := range conns {
		if err := ws.sendText(string(data)); err != nil {
			ws.close()
			s.mu.Lock()
			delete(s.clients, ws)
			s.mu.Unlock()
		}
	}
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request) (net.Conn, error) {
	if r.Header.Get("Upgrade") != "websocket" {
		return nil, fmt.Errorf("not a websocket request")
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, fmt.Errorf("missing Sec-WebSocket-Key")
	}

	h := sha1.New()
	h.Write([]byte(key + wsGUID))
	acceptKey := base64.StdEncoding.EncodeToString(h.Sum(nil))

	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, fmt.Errorf("hijacking not supported")
	}

	conn, bufrw, err := hj.Hijack()
	if err != nil {
		return nil, err
	}

	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + acceptKey + "\r\n\r\n"

	bufrw.WriteString(response)
	bufrw.Flush()

	return conn, nil
}

func (ws *wsConn) sendText(msg string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return fmt.Errorf("connection closed")
	}

	data := []byte(msg)
	frame := make([]byte, 0, 2+len(data))

	// Text frame, FIN bit set
	frame = append(frame, 0x81)

	if len(data) < 126 {
		frame = append(frame, byte(len(data)))
	} else if len(data) < 65536 {
		frame = append(frame, 126)
		frame = append(frame, byte(len(data)>>8), byte(len(data)))
	} else {
		frame = append(frame, 127)
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(len(data)))
		frame = append(frame, b...)
	}

	frame = append(frame, data...)

	_, err := ws.conn.Write(frame)
	return err
}

func (ws *wsConn) close() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if !ws.closed {
		ws.closed = true
		ws.conn.Close()
	}
}

func readWSMessage(r *bufio.Reader) ([]byte, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	// Close frame ends the read loop
	opcode := header[0] & 0x0F
	if opcode == 0x08 {
		return nil, fmt.Errorf("close frame received")
	}

	payloadLen := int(header[1] & 0x7F)
	masked := (header[1] & 0x80) != 0

	if payloadLen == 126 {
		lenBytes := make([]byte, 2)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, err
		}
		payloadLen = int(binary.BigEndian.Uint16(lenBytes))
	} else if payloadLen == 127 {
		lenBytes := make([]byte, 8)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, err
		}
		payloadLen = int(binary.BigEndian.Uint64(lenBytes))
	}

	var maskKey []byte
	if masked {
		maskKey = make([]byte, 4)
		if _, err := io.ReadFull(r, maskKey); err != nil {
			return nil, err
		}
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return payload, nil
}
