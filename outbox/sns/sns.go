// Package sns delivers outbox messages to AWS SNS topics.
// Destination format: "sns:arn:aws:sns:region:account:topic".
package sns

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
)

// Client is the subset of the SNS API the publisher uses.
type Client interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher publishes outbox messages to SNS topics. Message headers become
// SNS message attributes.
type Publisher struct {
	client         Client
	messageGroupID string
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithClient sets the SNS client.
func WithClient(client Client) Option {
	return func(p *Publisher) {
		p.client = client
	}
}

// WithMessageGroupID sets the message group ID for FIFO topics.
func WithMessageGroupID(groupID string) Option {
	return func(p *Publisher) {
		p.messageGroupID = groupID
	}
}

// New creates an SNS Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scheme returns the destination scheme this publisher serves.
func (p *Publisher) Scheme() string {
	return "sns"
}

// Publish sends the message payload to the topic ARN in the destination target.
func (p *Publisher) Publish(ctx context.Context, dest loanmaster.Destination, msg *loanmaster.OutboxMessage) error {
	if p.client == nil {
		return fmt.Errorf("sns: client not configured")
	}

	topicARN := dest.Target
	input := &sns.PublishInput{
		TopicArn: &topicARN,
		Message:  stringPtr(string(msg.Payload)),
	}

	if len(msg.Headers) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(msg.Headers))
		for k, v := range msg.Headers {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    stringPtr("String"),
				StringValue: stringPtr(v),
			}
		}
	}
	if p.messageGroupID != "" {
		input.MessageGroupId = &p.messageGroupID
	}

	if _, err := p.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns: publishing to %s: %w", topicARN, err)
	}
	return nil
}

func stringPtr(s string) *string {
	return &s
}

var _ loanmaster.Publisher = (*Publisher)(nil)
