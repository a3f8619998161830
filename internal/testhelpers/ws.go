package testhelpers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"go-chat-live/internal/realtime"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// WSConn reads frames one at a time even when the server batches several
// into one websocket message.
type WSConn struct {
	*websocket.Conn
	pending [][]byte
}

// Dial connects with the token in the Authorization header. An empty token
// connects without credentials.
func (s *Server) Dial(t testing.TB, token string) *WSConn {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(s.WSURL(), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &WSConn{Conn: conn}
}

// Connect dials and waits for the connected frame, so the session is
// registered when it returns.
func (s *Server) Connect(t testing.TB, token string) *WSConn {
	t.Helper()
	c := s.Dial(t, token)
	c.Expect(t, realtime.EventConnected)
	return c
}

func (c *WSConn) Send(t testing.TB, event string, payload any) {
	t.Helper()
	frame, err := realtime.EncodeFrame(event, payload)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, frame))
}

// Next returns the next frame or fails after timeout.
func (c *WSConn) Next(t testing.TB, timeout time.Duration) realtime.Frame {
	t.Helper()
	f, err := c.next(timeout)
	require.NoError(t, err)
	return f
}

func (c *WSConn) next(timeout time.Duration) (realtime.Frame, error) {
	for len(c.pending) == 0 {
		c.SetReadDeadline(time.Now().Add(timeout))
		_, data, err := c.ReadMessage()
		if err != nil {
			return realtime.Frame{}, err
		}
		c.pending = bytes.Split(data, []byte{'\n'})
	}
	raw := c.pending[0]
	c.pending = c.pending[1:]

	var f realtime.Frame
	err := json.Unmarshal(raw, &f)
	return f, err
}

// Expect skips frames until one named event arrives.
func (c *WSConn) Expect(t testing.TB, event string) realtime.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		remaining := time.Until(deadline)
		require.Positive(t, remaining, "timed out waiting for %s", event)
		f, err := c.next(remaining)
		require.NoError(t, err, "waiting for %s", event)
		if f.Event == event {
			return f
		}
	}
}

// Do sends an authenticated JSON request and returns the response.
func (s *Server) Do(t testing.TB, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// DoJSON is Do plus a status check and decoding of the body into out.
func (s *Server) DoJSON(t testing.TB, method, path, token string, body any, wantStatus int, out any) {
	t.Helper()
	resp := s.Do(t, method, path, token, body)
	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, wantStatus, resp.StatusCode, "body: %s", raw)
	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out))
	}
}
