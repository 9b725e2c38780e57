// Package errors provides domain-specific error types for peerlink.
//
// These types carry structured context (operation, address, delivery
// class, retryability) that helps the session loop decide whether a
// failure belongs in the session phase, in the caller's return value,
// or only in the log.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyConnected   = errors.New("already connected")
	ErrChannelUnavailable = errors.New("channel unavailable")
	ErrUnknownMessage     = errors.New("unknown message type")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrTransportClosed    = errors.New("transport closed")
	ErrManagerStopped     = errors.New("session manager stopped")
	ErrAuthFailed         = errors.New("authentication failed")
)

// ── Structured error types ───────────────────────────────────────────

// TransportError represents a failure to establish or use the
// underlying transport.
type TransportError struct {
	Op        string // operation: "dial", "handshake", "send", "read"
	Addr      string // room address involved
	Err       error  // underlying error
	Retryable bool   // failure looks transient
	Permanent bool   // retrying cannot succeed; the session gives up at once
}

func (e *TransportError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *TransportError) Unwrap() error { return e.Err }

// SerializationError is returned when an outbound message cannot be
// encoded or its encoding is larger than the configured limit.
type SerializationError struct {
	Kind  string // message variant
	Size  int    // encoded size, 0 if encoding itself failed
	Limit int    // configured max message size
	Err   error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("serialize %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("serialize %s: %d bytes exceeds limit of %d", e.Kind, e.Size, e.Limit)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// DeserializationError is returned for malformed or truncated inbound
// packets.  It never crosses the session loop boundary.
type DeserializationError struct {
	Size int
	Err  error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialize %d-byte packet: %v", e.Size, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "dial"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a TransportError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *TransportError {
	return &TransportError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// UnknownMessage reports a value outside the message set, such as a
// pointer to one of the message types.
func UnknownMessage(m interface{}) error {
	return fmt.Errorf("%w: %T", ErrUnknownMessage, m)
}

// Unavailable reports that class has no channel in the current
// configuration.
func Unavailable(class string) error {
	return fmt.Errorf("%w: %s channel is disabled", ErrChannelUnavailable, class)
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return classifyRetryable(err)
}

// IsPermanent reports whether retrying err can never succeed: a
// malformed address or rejected credentials.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrAuthFailed) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te) && te.Permanent
}

// IsMalformed reports whether err came from decoding a bad packet.
func IsMalformed(err error) bool {
	var de *DeserializationError
	return errors.As(err, &de)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
