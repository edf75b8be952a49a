package notify

import (
	"context"

	"github.com/vaultbank/ledger-service/pkg/rabbitmq"
)

// RoutingKeyOTPIssued is the topic routing key for passcode delivery events.
const RoutingKeyOTPIssued = "otp.code.issued"

// AMQPNotifier publishes OTP issuance events to a durable topic exchange,
// where the mailer service picks them up for email delivery.
type AMQPNotifier struct {
	producer rabbitmq.Publisher
	exchange string
}

// NewAMQPNotifier creates a notifier publishing to the given exchange.
func NewAMQPNotifier(producer rabbitmq.Publisher, exchange string) *AMQPNotifier {
	return &AMQPNotifier{producer: producer, exchange: exchange}
}

func (n *AMQPNotifier) NotifyOTPIssued(ctx context.Context, event OTPIssuedEvent) error {
	return n.producer.Publish(ctx, n.exchange, RoutingKeyOTPIssued, event)
}

func (n *AMQPNotifier) Channel() string { return "email" }
