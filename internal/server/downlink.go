package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DownlinkCommand asks the gateway to send bytes to one of its sessions.
type DownlinkCommand struct {
	Session string `json:"session"`
	OutboundRequest
}

// Subscriber is the part of *nats.Conn the downlink consumer needs.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// DownlinkSubject is where commands for this gateway arrive.
func (s *Server) DownlinkSubject() string {
	return fmt.Sprintf("framegate.downlink.%s", s.config.GatewayID)
}

// ConsumeDownlink relays commands to sessions until ctx ends.
func (s *Server) ConsumeDownlink(ctx context.Context, nc Subscriber) error {
	subject := s.DownlinkSubject()
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		if err := s.handleDownlink(ctx, msg.Data); err != nil {
			s.log.Warn().Err(err).Str("subject", subject).Msg("downlink failed")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.log.Info().Str("subject", subject).Msg("downlink subscribed")

	<-ctx.Done()
	return sub.Unsubscribe()
}

func (s *Server) handleDownlink(ctx context.Context, data []byte) error {
	var cmd DownlinkCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}
	_, err := s.Send(ctx, cmd.Session, cmd.OutboundRequest)
	return err
}
