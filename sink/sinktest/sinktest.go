// Package sinktest provides a static sink.Config and a recording publisher for
// sink tests.
package sinktest

import (
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a plain-field sink.Config.
type Config struct {
	System             string
	KafkaBrokers       []string
	RabbitMQURL        string
	NATSURL            string
	JetStreamStream    string
	HTTPPublisherURL   string
	ForwardFile        string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *Config) GetForwardSystem() string      { return c.System }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetJetStreamStream() string    { return c.JetStreamStream }
func (c *Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *Config) GetForwardFile() string        { return c.ForwardFile }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Published is one recorded Publish call.
type Published struct {
	Topic    string
	Messages []*message.Message
}

// Publisher records every publish. Err, when set, is returned instead.
type Publisher struct {
	Err error

	mu     sync.Mutex
	calls  []Published
	closed bool
}

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("sinktest: publisher closed")

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.Err != nil {
		return p.Err
	}
	p.calls = append(p.calls, Published{Topic: topic, Messages: messages})
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Calls returns a copy of the recorded publishes.
func (p *Publisher) Calls() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.calls))
	copy(out, p.calls)
	return out
}

// Closed reports whether Close was called.
func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
