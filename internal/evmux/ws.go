package evmux

import (
	"context"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) ReadFrame(ctx context.Context) (Frame, error) {
	var f Frame
	err := wsjson.Read(ctx, w.c, &f)
	return f, err
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}

// WebsocketDialer connects to the backend event channel and writes the
// auth token as the first message, the same handshake the dashboard
// stream uses.
func WebsocketDialer(url, token string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			CompressionMode: websocket.CompressionDisabled,
		})
		if err != nil {
			return nil, err
		}
		if token != "" {
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, []byte(token))
			cancel()
			if err != nil {
				c.Close(websocket.StatusPolicyViolation, "auth write failed")
				return nil, err
			}
		}
		return &wsConn{c: c}, nil
	}
}
