package session

import (
	"peerlink/config"
	"peerlink/internal/protocol"
)

// Command is an instruction for the event loop.  Every command may
// carry a reply channel that receives exactly one result; a nil
// channel means fire-and-forget.
type Command interface {
	replyTo() chan<- error
	withReply(chan<- error) Command
}

// Connect joins the room at Address, or the configured room when
// Address is empty.  It starts a fresh session instance.
type Connect struct {
	Address string
	Reply   chan<- error
}

// SendMessage broadcasts Message to the room.
type SendMessage struct {
	Message protocol.Message
	Reply   chan<- error

	heartbeat bool
}

// Disconnect leaves the room and stops all background tasks.
type Disconnect struct {
	Reply chan<- error
}

// Reconnect drops the current transport and joins the last room
// again as a fresh session instance.
type Reconnect struct {
	Reply chan<- error

	// scheduled marks a monitor-issued attempt.  It only proceeds if
	// the session is still Reconnecting.
	scheduled bool
	attempt   int
}

// UpdateConfig replaces the configuration.  A connected session is
// disconnected and connected again with the new settings.
type UpdateConfig struct {
	Config config.Config
	Reply  chan<- error
}

func (c Connect) replyTo() chan<- error      { return c.Reply }
func (c SendMessage) replyTo() chan<- error  { return c.Reply }
func (c Disconnect) replyTo() chan<- error   { return c.Reply }
func (c Reconnect) replyTo() chan<- error    { return c.Reply }
func (c UpdateConfig) replyTo() chan<- error { return c.Reply }

func (c Connect) withReply(ch chan<- error) Command      { c.Reply = ch; return c }
func (c SendMessage) withReply(ch chan<- error) Command  { c.Reply = ch; return c }
func (c Disconnect) withReply(ch chan<- error) Command   { c.Reply = ch; return c }
func (c Reconnect) withReply(ch chan<- error) Command    { c.Reply = ch; return c }
func (c UpdateConfig) withReply(ch chan<- error) Command { c.Reply = ch; return c }

func reply(c Command, err error) {
	if ch := c.replyTo(); ch != nil {
		select {
		case ch <- err:
		default:
		}
	}
}
