package config

type EventsConfig struct {
	SNSTopicARN string `env:"EVENTS_SNS_TOPIC_ARN"`
	AWSRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
}

// UseSNS reports whether ledger events go to SNS instead of the log.
func (c *EventsConfig) UseSNS() bool {
	return c.SNSTopicARN != ""
}
