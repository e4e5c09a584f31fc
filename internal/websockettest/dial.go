// Package websockettest holds websocket helpers shared by server tests.
package websockettest

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// URL converts an httptest server URL into the websocket URL of path.
func URL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// Dial connects to path on the test server at serverURL.
func Dial(serverURL, path string, header http.Header) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial(URL(serverURL, path), header)
}

// DialIgnoringPongs connects like Dial but never answers pings, so tests can
// simulate a peer that stopped responding.
func DialIgnoringPongs(serverURL, path string, header http.Header) (*websocket.Conn, *http.Response, error) {
	conn, resp, err := Dial(serverURL, path, header)
	if err != nil {
		return nil, resp, err
	}
	conn.SetPingHandler(func(string) error { return nil })
	conn.SetPongHandler(func(string) error { return nil })
	return conn, resp, nil
}
