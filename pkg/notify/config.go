package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the notifier sinks named by -notifier.
func Configured() Notifier {
	sinks := lflag.String("notifier", "log", "Comma-separated notification sinks (available: log, kafka, sns)")
	brokers := lflag.String("kafka-brokers", "", "Comma-separated Kafka brokers for the kafka notifier")
	topic := lflag.String("kafka-topic", "autopilot-notifications", "Kafka topic for the kafka notifier")
	topicARN := lflag.String("sns-topic-arn", "", "SNS topic ARN for the sns notifier")
	region := lflag.String("sns-region", "ap-south-1", "AWS region for the sns notifier")

	var m Multi
	n := &struct{ Multi }{}
	lflag.Do(func() {
		for _, name := range splitList(*sinks) {
			switch name {
			case "log":
				m = append(m, Log{})
			case "kafka":
				bs := splitList(*brokers)
				if len(bs) == 0 {
					panic(errors.New("kafka notifier requires -kafka-brokers"))
				}
				m = append(m, NewKafka(bs, *topic))
			case "sns":
				if *topicARN == "" {
					panic(errors.New("sns notifier requires -sns-topic-arn"))
				}
				s, err := NewSNS(context.Background(), *region, *topicARN)
				if err != nil {
					panic(fmt.Sprintf("sns notifier init failed: %v", err))
				}
				m = append(m, s)
			default:
				panic(fmt.Sprintf("unknown notifier: %s", name))
			}
		}
		n.Multi = m
	})
	return n
}
