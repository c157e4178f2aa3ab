package report

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"

	"github.com/yannick-cn/dbc-view/base"
)

var ErrNoBroker = errors.New("mqtt broker not configured")

const dialTimeout = 5 * time.Second

// Publisher sends reports to the configured MQTT topic.
type Publisher struct {
	client *paho.Client
	topic  base.MQTTTopic
	broker string
}

func NewPublisher(ctx context.Context, cfg *base.MQTT) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", cfg.Broker)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", cfg.Broker)
	}
	log.Debugln("Success to connect to ", cfg.Broker)

	client := paho.NewClient(paho.ClientConfig{
		Conn: packets.NewThreadSafeConn(tcpConn),
	})

	cp := &paho.Connect{
		KeepAlive:  30,
		ClientID:   cfg.Clientid,
		CleanStart: true,
		Username:   cfg.Username,
		Password:   []byte(cfg.Password),
	}

	if cfg.Username != "" {
		cp.UsernameFlag = true
	}
	if cfg.Password != "" {
		cp.PasswordFlag = true
	}

	log.Debugln("UsernameFlag:", cp.UsernameFlag, " PasswordFlag:", cp.PasswordFlag)

	ca, err := client.Connect(ctx, cp)
	if err != nil {
		tcpConn.Close()
		return nil, errors.Wrapf(err, "mqtt connect %s", cfg.Broker)
	}

	if ca.ReasonCode != 0 {
		reason := ""
		if ca.Properties != nil {
			reason = ca.Properties.ReasonString
		}
		tcpConn.Close()
		return nil, errors.Newf("Failed to connect to %s : %d - %s", cfg.Broker, ca.ReasonCode, reason)
	}

	log.Debugf("Connected to %s\n", cfg.Broker)
	return &Publisher{client: client, topic: cfg.Report, broker: cfg.Broker}, nil
}

func (p *Publisher) Publish(ctx context.Context, r *Report) error {
	payload, err := r.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}

	if _, err = p.client.Publish(ctx, &paho.Publish{
		Topic:   p.topic.Topic,
		QoS:     byte(p.topic.Qos),
		Retain:  p.topic.Retained,
		Payload: payload,
	}); err != nil {
		log.Errorln("Report error sending message: ", err)
		return errors.Wrapf(err, "publish to %s", p.topic.Topic)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
