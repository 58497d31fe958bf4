package vigil

import (
	"encoding/json"
	"fmt"

	"github.com/vigilio/vigil/internal/store"
)

const (
	maxNameLen   = 512
	maxURLLen    = 4096
	maxConfigLen = 8192
	minIntervalM = 1         // 1 minute
	maxIntervalM = 7 * 24 * 60 // 7 days

	// MaxMonitors caps the number of monitors per instance.
	MaxMonitors = 1000
)

// allowedContentTypes is the set of valid content-type hints. Empty means
// default normalization (HTML to text when the content looks like HTML).
var allowedContentTypes = map[string]bool{
	"":       true,
	"html":   true,
	"text":   true,
	"github": true,
	"rss":    true,
}

var allowedChannelTypes = map[string]bool{
	store.ChannelWebhook:  true,
	store.ChannelDiscord:  true,
	store.ChannelTelegram: true,
}

// validateMonitorInput validates a monitor's mutable fields before insert
// or update.
func validateMonitorInput(m *store.Monitor) error {
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(m.Name) > maxNameLen {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxNameLen)
	}

	if m.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	if len(m.URL) > maxURLLen {
		return fmt.Errorf("%w: url exceeds %d characters", ErrInvalidInput, maxURLLen)
	}

	if !allowedContentTypes[m.ContentType] {
		return fmt.Errorf("%w: unknown content_type %q", ErrInvalidInput, m.ContentType)
	}

	if m.CheckInterval < minIntervalM || m.CheckInterval > maxIntervalM {
		return fmt.Errorf("%w: check_interval must be between %d and %d minutes", ErrInvalidInput, minIntervalM, maxIntervalM)
	}

	if m.ConfigJSON != "" && m.ConfigJSON != "{}" {
		if len(m.ConfigJSON) > maxConfigLen {
			return fmt.Errorf("%w: config_json exceeds %d bytes", ErrInvalidInput, maxConfigLen)
		}
		if !json.Valid([]byte(m.ConfigJSON)) {
			return fmt.Errorf("%w: config_json is not valid JSON", ErrInvalidInput)
		}
	}

	return nil
}

func validateChannelInput(name, channelType string, config []byte) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxNameLen)
	}
	if !allowedChannelTypes[channelType] {
		return fmt.Errorf("%w: unknown channel type %q", ErrInvalidInput, channelType)
	}
	if len(config) == 0 || !json.Valid(config) {
		return fmt.Errorf("%w: channel config must be valid JSON", ErrInvalidInput)
	}
	if len(config) > maxConfigLen {
		return fmt.Errorf("%w: channel config exceeds %d bytes", ErrInvalidInput, maxConfigLen)
	}
	return nil
}

func validateDeliveryMode(mode string) error {
	switch mode {
	case store.DeliveryImmediate, store.DeliveryWeeklyDigest:
		return nil
	default:
		return fmt.Errorf("%w: unknown delivery_mode %q", ErrInvalidInput, mode)
	}
}
