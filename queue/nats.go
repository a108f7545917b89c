// Package queue moves pipeline jobs and finished executions between the
// API server and the runlets over NATS.
package queue

import (
	"context"

	nats "github.com/nats-io/go-nats"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

// Subjects shared by the API server and the runlets.
const (
	JobsSubject       = "pulse.jobs"
	ExecutionsSubject = "pulse.executions"

	// RunletGroup is the queue group runlets subscribe with, so each job
	// goes to exactly one of them.
	RunletGroup = "runlets"
)

func init() {
	logger = logrus.WithField("package", "queue")
}

// NATS is a connection to a NATS server exposed as Go channels.
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to the NATS server at url.
func NewNATS(url string) (*NATS, error) {
	logger := logger.WithField("url", url)
	logger.Debug("connecting to nats")

	conn, err := nats.Connect(url)
	if err != nil {
		logger.WithError(err).Debug("unable to connect to nats")
		return nil, err
	}

	return &NATS{conn: conn}, nil
}

// SenderOn returns a channel whose messages are published on subject.
// Closing the channel stops the publisher.
func (n *NATS) SenderOn(subject string) chan<- []byte {
	send := make(chan []byte)

	go func() {
		logger := logger.WithField("subject", subject)

		for msg := range send {
			if err := n.conn.Publish(subject, msg); err != nil {
				logger.WithError(err).Error("unable to publish message")
			}
		}

		logger.Debug("sender closed")
	}()

	return send
}

// ReceiverOn subscribes to subject as a member of group and returns the
// message payloads. An empty group makes every subscriber see every
// message. The subscription ends and the channel is closed when ctx is
// done.
func (n *NATS) ReceiverOn(ctx context.Context, subject, group string) (<-chan []byte, error) {
	logger := logger.WithFields(logrus.Fields{
		"subject": subject,
		"group":   group,
	})
	logger.Debug("subscribing")

	msgs := make(chan *nats.Msg, 64)

	var sub *nats.Subscription
	var err error
	if group == "" {
		sub, err = n.conn.ChanSubscribe(subject, msgs)
	} else {
		sub, err = n.conn.ChanQueueSubscribe(subject, group, msgs)
	}
	if err != nil {
		logger.WithError(err).Debug("unable to subscribe")
		return nil, err
	}

	recv := make(chan []byte)
	go func() {
		defer close(recv)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				logger.Debug("unsubscribing")
				return
			case msg := <-msgs:
				select {
				case recv <- msg.Data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return recv, nil
}

// Close closes the connection.
func (n *NATS) Close() {
	n.conn.Close()
}
