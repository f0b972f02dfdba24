package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				c.shutdown(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				// closed locally
			default:
				c.logger.Warn().Err(err).Msg("readPump read error")
				c.shutdown(err)
			}
			return
		}
		msg, err := decode(data)
		if err != nil {
			c.logger.Error().Err(err).Msg("bad json")
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}
