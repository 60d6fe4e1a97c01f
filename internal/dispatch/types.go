package dispatch

import (
	"context"
	"time"

	"sacn2lifx/internal/color"
)

// Sink sends a color command to a physical light. Implementations must honour ctx.
type Sink interface {
	Send(ctx context.Context, lightID string, rgb color.RGB, fade time.Duration) error
}

// Policy holds the rate-limit and suppression settings.
type Policy struct {
	Tick        time.Duration // Tick - период проверки ожидающих значений.
	MinInterval time.Duration // MinInterval - минимальный интервал между командами одной лампе.
	Threshold   int           // Threshold - минимальное изменение канала (0-255) для отправки.
	Fade        time.Duration // Fade - длительность перехода на лампе.
	SendTimeout time.Duration // SendTimeout - ограничение времени одной команды.
}

// DefaultPolicy returns a 50 Hz policy with a 1/255 change threshold.
func DefaultPolicy() Policy {
	return Policy{
		Tick:        20 * time.Millisecond,
		MinInterval: 20 * time.Millisecond,
		Threshold:   1,
		Fade:        20 * time.Millisecond,
		SendTimeout: 250 * time.Millisecond,
	}
}

type phase int

const (
	phaseIdle    phase = iota // nothing to send
	phasePending              // a target is waiting for the next eligible tick
	phaseSending              // a Sink call is in flight
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phasePending:
		return "pending"
	case phaseSending:
		return "sending"
	default:
		return "unknown"
	}
}

// LightStatus is a copy of one light's output state.
type LightStatus struct {
	LightID      string     `json:"light_id"`
	State        string     `json:"state"`
	Pending      *color.RGB `json:"pending,omitempty"`
	LastSent     *color.RGB `json:"last_sent,omitempty"`
	LastSentTime time.Time  `json:"last_sent_time"`
	Sends        uint64     `json:"sends"`
	Failures     uint64     `json:"failures"`
	LastError    string     `json:"last_error,omitempty"`
}
