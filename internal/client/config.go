// Package client is the client side of the event socket: a connection
// session that reconnects with exponential backoff and rejoins its event,
// plus helpers for typing indicators, message history and the REST API.
package client

import (
	"net/http"
	"time"
)

// Config controls how a Session connects.
type Config struct {
	// URL of the /ws endpoint, e.g. ws://localhost:8000/ws.
	URL string
	// Token is sent as a bearer token on the upgrade request.
	Token string
	// UserId is the authenticated user the session joins events as.
	UserId               string
	HandshakeTimeout     time.Duration
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	MaxReconnectAttempts int
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     10 * time.Second,
		BaseDelay:            time.Second,
		MaxDelay:             30 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

func (c Config) header() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}

// Backoff returns the delay before reconnect attempt number attempt
// (zero based): base * 2^attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}

	if d > max {
		return max
	}
	return d
}
