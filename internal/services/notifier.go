package services

import (
	"context"
	"errors"
	"time"

	"go-spacewx/internal/clients"
	"go-spacewx/internal/domain"

	"go.uber.org/zap"
)

// PushSender delivers one gateway message
type PushSender interface {
	Send(ctx context.Context, msg clients.PushMessage) (*clients.PushTicket, error)
}

// NotificationLog stores delivery outcomes idempotently
type NotificationLog interface {
	InsertLog(ctx context.Context, e domain.NotificationLogEntry) (bool, error)
}

// DeliveryTracker records the last successful delivery per device
type DeliveryTracker interface {
	TouchLastNotification(ctx context.Context, installID string, at time.Time) error
}

// Notifier runs cooldown, dispatch and logging for one event
type Notifier struct {
	sender    PushSender
	cooldown  *Cooldown
	logs      []NotificationLog
	devices   DeliveryTracker
	clock     domain.Clock
	channelID string
	log       *zap.Logger
}

// NewNotifier creates a notifier. logs are tried in order until one accepts the entry.
func NewNotifier(sender PushSender, cooldown *Cooldown, logs []NotificationLog, devices DeliveryTracker, clock domain.Clock, channelID string, log *zap.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		cooldown:  cooldown,
		logs:      logs,
		devices:   devices,
		clock:     clock,
		channelID: channelID,
		log:       log.Named("notifier"),
	}
}

// Deliver sends one event to one device and returns the logged outcome.
// Dispatch failures are recorded, never returned.
func (n *Notifier) Deliver(ctx context.Context, d domain.DeviceSubscription, e domain.AlertEvent) domain.NotificationLogEntry {
	entry := domain.NotificationLogEntry{InstallID: d.InstallID, EventID: e.ID}

	if n.cooldown.Active(ctx, d.InstallID, e) {
		entry.Status = domain.StatusSkipped
		entry.Reason = domain.ReasonDedupeCooldown
		return n.record(ctx, entry)
	}

	msg := clients.PushMessage{
		To:        d.PushToken,
		Title:     e.Title,
		Body:      e.Body,
		Sound:     "default",
		Priority:  "high",
		ChannelID: n.channelID,
		Data: map[string]string{
			"eventId":   e.ID,
			"kind":      e.Kind,
			"condition": string(e.Condition),
		},
	}
	if _, err := n.sender.Send(ctx, msg); err != nil {
		entry.Status = domain.StatusFailed
		entry.Reason = failureReason(err)
		n.log.Warn("dispatch failed",
			zap.String("install_id", d.InstallID),
			zap.String("event_id", e.ID),
			zap.String("reason", entry.Reason))
		return n.record(ctx, entry)
	}

	n.cooldown.Mark(ctx, d.InstallID, e)
	entry.Status = domain.StatusSent
	entry = n.record(ctx, entry)
	if err := n.devices.TouchLastNotification(ctx, d.InstallID, entry.CreatedAt); err != nil {
		n.log.Warn("failed to bump lastNotificationAt", zap.String("install_id", d.InstallID), zap.Error(err))
	}
	return entry
}

func failureReason(err error) string {
	var de *domain.DispatchError
	if errors.As(err, &de) {
		return de.Reason
	}
	return err.Error()
}

func (n *Notifier) record(ctx context.Context, entry domain.NotificationLogEntry) domain.NotificationLogEntry {
	entry.CreatedAt = n.clock.Now()
	for _, l := range n.logs {
		inserted, err := l.InsertLog(ctx, entry)
		if err != nil {
			n.log.Warn("notification log write failed", zap.Error(err))
			continue
		}
		if !inserted {
			n.log.Debug("notification already logged",
				zap.String("install_id", entry.InstallID), zap.String("event_id", entry.EventID))
		}
		return entry
	}
	n.log.Error("notification log unavailable on every tier",
		zap.String("install_id", entry.InstallID), zap.String("status", entry.Status))
	return entry
}
