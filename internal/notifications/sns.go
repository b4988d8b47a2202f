// Package notifications publishes operational events (credential day
// blocks, tenants hitting the free-tier limit) to SNS.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type NotificationType string

const (
	NotificationCredentialDayBlocked NotificationType = "credential_day_blocked"
	NotificationDailyLimitExceeded   NotificationType = "daily_limit_exceeded"
)

// Notification is one event. Subject identifies what the event is about
// (a credential fingerprint or a tenant id) and, together with Type and
// Date, forms the deduplication key.
type Notification struct {
	Type     NotificationType `json:"type"`
	Subject  string           `json:"subject"`
	TenantID string           `json:"tenant_id,omitempty"`
	Date     string           `json:"date"`
	Message  string           `json:"message"`
	Data     map[string]any   `json:"data,omitempty"`
}

func (n Notification) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s", n.Type, n.Subject, n.Date)
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

// SNSAPI is the subset of the SNS client used by the notifier.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSNotifier struct {
	client   SNSAPI
	topicArn string
}

func NewSNSNotifier(client SNSAPI, topicArn string) *SNSNotifier {
	return &SNSNotifier{client: client, topicArn: topicArn}
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicArn string) *SNSNotifier {
	return NewSNSNotifier(sns.NewFromConfig(cfg), topicArn)
}

func (n *SNSNotifier) Send(ctx context.Context, notification Notification) error {
	message, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Message:  aws.String(string(message)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(notification.Type)),
			},
		},
	}

	if notification.TenantID != "" {
		input.MessageAttributes["TenantID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(notification.TenantID),
		}
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	slog.Info("notification sent",
		"type", notification.Type,
		"subject", notification.Subject,
	)

	return nil
}

// LogNotifier writes notifications to the log. It is the default when no
// SNS topic is configured.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, notification Notification) error {
	slog.Warn("notification",
		"type", notification.Type,
		"subject", notification.Subject,
		"tenant_id", notification.TenantID,
		"date", notification.Date,
		"message", notification.Message,
	)
	return nil
}

type InMemoryNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{}
}

func (n *InMemoryNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return nil
}

func (n *InMemoryNotifier) Notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]Notification, len(n.notifications))
	copy(result, n.notifications)
	return result
}

// Dispatcher deduplicates notifications and sends them in the background
// so callers on the request path never wait on SNS.
type Dispatcher struct {
	notifier Notifier
	dedup    Deduplicator
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(notifier Notifier, dedup Deduplicator) *Dispatcher {
	if dedup == nil {
		dedup = NewInMemoryDeduplicator()
	}
	return &Dispatcher{notifier: notifier, dedup: dedup, timeout: 5 * time.Second}
}

// Notify sends n unless an identical notification was already sent.
func (d *Dispatcher) Notify(n Notification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if !d.dedup.ShouldNotify(ctx, n.DedupKey()) {
			return
		}
		if err := d.notifier.Send(ctx, n); err != nil {
			slog.Warn("notification failed", "type", n.Type, "subject", n.Subject, "error", err)
		}
	}()
}

// Wait blocks until pending notifications are sent or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CredentialDayBlocked builds the notification for a day-blocked credential.
func CredentialDayBlocked(fingerprint, reason, date string) Notification {
	return Notification{
		Type:    NotificationCredentialDayBlocked,
		Subject: fingerprint,
		Date:    date,
		Message: fmt.Sprintf("credential %s blocked for %s", fingerprint, date),
		Data:    map[string]any{"reason": reason},
	}
}

// DailyLimitExceeded builds the notification for a tenant that used up its
// free daily requests.
func DailyLimitExceeded(tenantID string, used, limit int, date string) Notification {
	return Notification{
		Type:     NotificationDailyLimitExceeded,
		Subject:  tenantID,
		TenantID: tenantID,
		Date:     date,
		Message:  fmt.Sprintf("tenant %s reached the daily free limit", tenantID),
		Data:     map[string]any{"daily_used": used, "daily_limit": limit},
	}
}
