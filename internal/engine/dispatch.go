package engine

import (
	"context"

	"github.com/vigilio/vigil/internal/notify"
	"github.com/vigilio/vigil/internal/store"
)

// dispatch partitions a monitor's linked channels into immediate and
// weekly-digest delivery and routes one notification (possibly covering
// several changes) accordingly. Per-channel failures are logged and
// returned; they never fail the check.
func (e *Engine) dispatch(ctx context.Context, m *store.Monitor, changes []*store.Change, title, body, link string) []DeliveryResult {
	links, err := e.store.ListChannelLinks(ctx, m.ID)
	if err != nil {
		e.logger.Error("list channel links", "monitor", m.ID, "error", err)
		return nil
	}
	if len(links) == 0 {
		return nil
	}

	changeIDs := make([]string, 0, len(changes))
	for _, c := range changes {
		changeIDs = append(changeIDs, c.ID)
	}
	now := e.now()

	var results []DeliveryResult
	for _, cl := range links {
		if cl.Link.DeliveryMode == store.DeliveryWeeklyDigest {
			e.enqueueDigestItems(ctx, m, cl.Channel.ID, changes, now)
			results = append(results, DeliveryResult{ChannelID: cl.Channel.ID, OK: true})
			continue
		}

		msg := &notify.Message{
			MonitorID:   m.ID,
			MonitorName: m.Name,
			Title:       title,
			Body:        body,
			ChangeIDs:   changeIDs,
			SentAt:      now.UnixMilli(),
		}
		if cl.Link.IncludeLink {
			if link != "" {
				msg.Link = link
			} else {
				msg.Link = m.URL
			}
		}
		if err := e.notifier.Send(ctx, &cl.Channel, msg); err != nil {
			e.logger.Warn("notification failed",
				"monitor", m.ID, "channel", cl.Channel.ID, "type", cl.Channel.Type, "error", err)
			results = append(results, DeliveryResult{ChannelID: cl.Channel.ID, Err: err})
			continue
		}
		results = append(results, DeliveryResult{ChannelID: cl.Channel.ID, OK: true})
	}
	return results
}
