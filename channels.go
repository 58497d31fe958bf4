package vigil

import (
	"context"
	"errors"
	"fmt"

	"github.com/vigilio/vigil/internal/store"
)

// AddChannel validates and stores a notification channel. The plaintext
// config is encrypted before it touches the database.
func (s *Service) AddChannel(ctx context.Context, name, channelType string, config []byte) (*store.Channel, error) {
	if s.cfg.EncryptionKey == "" {
		return nil, errors.New("vigil: encryption_key must be configured before adding channels")
	}
	if err := validateChannelInput(name, channelType, config); err != nil {
		return nil, err
	}
	enc, err := s.notifier.EncryptConfig(config)
	if err != nil {
		return nil, fmt.Errorf("encrypt channel config: %w", err)
	}
	ch := &store.Channel{
		ID:        s.newID(),
		Type:      channelType,
		Name:      name,
		ConfigEnc: enc,
		Enabled:   true,
	}
	if err := s.store.InsertChannel(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// ListChannels returns all channels. Configs stay encrypted.
func (s *Service) ListChannels(ctx context.Context) ([]*store.Channel, error) {
	return s.store.ListChannels(ctx)
}

// SetChannelEnabled toggles a channel.
func (s *Service) SetChannelEnabled(ctx context.Context, id string, enabled bool) error {
	ch, err := s.store.GetChannel(ctx, id)
	if err != nil {
		return err
	}
	if ch == nil {
		return fmt.Errorf("%w: channel %s", ErrNotFound, id)
	}
	ch.Enabled = enabled
	return s.store.UpdateChannel(ctx, ch)
}

// DeleteChannel removes a channel and its links.
func (s *Service) DeleteChannel(ctx context.Context, id string) error {
	ch, err := s.store.GetChannel(ctx, id)
	if err != nil {
		return err
	}
	if ch == nil {
		return fmt.Errorf("%w: channel %s", ErrNotFound, id)
	}
	return s.store.DeleteChannel(ctx, id)
}

// LinkChannel attaches a channel to a monitor with per-link delivery
// settings. Linking twice updates the settings.
func (s *Service) LinkChannel(ctx context.Context, link *store.MonitorChannel) error {
	if link.DeliveryMode == "" {
		link.DeliveryMode = store.DeliveryImmediate
	}
	if err := validateDeliveryMode(link.DeliveryMode); err != nil {
		return err
	}
	m, err := s.store.GetMonitor(ctx, link.MonitorID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: monitor %s", ErrNotFound, link.MonitorID)
	}
	ch, err := s.store.GetChannel(ctx, link.ChannelID)
	if err != nil {
		return err
	}
	if ch == nil {
		return fmt.Errorf("%w: channel %s", ErrNotFound, link.ChannelID)
	}
	return s.store.LinkChannel(ctx, link)
}

// UnlinkChannel detaches a channel from a monitor.
func (s *Service) UnlinkChannel(ctx context.Context, monitorID, channelID string) error {
	return s.store.UnlinkChannel(ctx, monitorID, channelID)
}
