package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"affiliate-ledger/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNSPublisherPublish(t *testing.T) {
	fake := &fakeSNS{}
	p := &SNSPublisher{client: fake, topicARN: "arn:aws:sns:us-east-1:123:ledger"}

	event := &models.LedgerEvent{
		Type:         models.EventCommissionCreated,
		ConversionID: "c1",
		VendorID:     "v1",
		Amount:       "10.00",
		OccurredAt:   time.Unix(1700000000, 0).UTC(),
	}
	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := aws.ToString(fake.input.TopicArn); got != p.topicARN {
		t.Errorf("TopicArn = %q", got)
	}
	var decoded models.LedgerEvent
	if err := json.Unmarshal([]byte(aws.ToString(fake.input.Message)), &decoded); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if decoded.ConversionID != "c1" || decoded.Type != models.EventCommissionCreated {
		t.Errorf("unexpected message %+v", decoded)
	}
	if got := aws.ToString(fake.input.MessageAttributes["event_type"].StringValue); got != models.EventCommissionCreated {
		t.Errorf("event_type attribute = %q", got)
	}
}

func TestSNSPublisherWrapsError(t *testing.T) {
	boom := errors.New("throttled")
	p := &SNSPublisher{client: &fakeSNS{err: boom}, topicARN: "arn"}

	err := p.Publish(context.Background(), &models.LedgerEvent{Type: models.EventConversionRefunded})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}
