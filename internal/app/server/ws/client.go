package ws

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrQueueFull    = errors.New("client send queue full")
)

const sendQueueSize = 64

// RuntimeClient serialises writes to one socket through a buffered queue.
type RuntimeClient struct {
	ctx          context.Context
	cancel       context.CancelFunc
	ws           *WebSocket
	accountID    string
	connectionID string
	out          chan []byte
	once         sync.Once
}

func NewClient(
	parent context.Context,
	ws *WebSocket,
	accountID, connectionID string,
) *RuntimeClient {
	ctx, cancel := context.WithCancel(parent)
	c := &RuntimeClient{
		ctx:          ctx,
		cancel:       cancel,
		ws:           ws,
		accountID:    accountID,
		connectionID: connectionID,
		out:          make(chan []byte, sendQueueSize),
	}
	go c.writeLoop()
	return c
}

func (c *RuntimeClient) AccountID() string    { return c.accountID }
func (c *RuntimeClient) ConnectionID() string { return c.connectionID }

func (c *RuntimeClient) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (c *RuntimeClient) Close() {
	c.once.Do(func() {
		c.cancel()
		c.ws.Close()
	})
}

func (c *RuntimeClient) writeLoop() {
	defer c.Close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				return
			}
		}
	}
}
