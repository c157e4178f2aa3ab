package report

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/packets"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yannick-cn/dbc-view/base"
)

func TestNewPublisherNoBroker(t *testing.T) {
	_, err := NewPublisher(context.Background(), &base.MQTT{})
	assert.ErrorIs(t, err, ErrNoBroker)
}

func TestNewPublisherDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewPublisher(context.Background(), &base.MQTT{Broker: addr})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}

// fakeBroker accepts one client, acknowledges CONNECT and one QoS 1 PUBLISH,
// and sends the received publish on the returned channel.
func fakeBroker(t *testing.T) (string, <-chan *packets.Publish) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	published := make(chan *packets.Publish, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			cp, err := packets.ReadPacket(conn)
			if err != nil {
				return
			}
			switch p := cp.Content.(type) {
			case *packets.Connect:
				ack := packets.Connack{ReasonCode: 0, Properties: &packets.Properties{}}
				if _, err := ack.WriteTo(conn); err != nil {
					return
				}
			case *packets.Publish:
				ack := packets.Puback{PacketID: p.PacketID, ReasonCode: 0, Properties: &packets.Properties{}}
				if _, err := ack.WriteTo(conn); err != nil {
					return
				}
				published <- p
			case *packets.Disconnect:
				return
			}
		}
	}()
	return ln.Addr().String(), published
}

func TestPublish(t *testing.T) {
	addr, published := fakeBroker(t)
	cfg := base.NewConfig().MQTT
	cfg.Broker = addr

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := NewPublisher(ctx, &cfg)
	require.NoError(t, err)

	r := Validate("m.dbc", nil, nil)
	require.NoError(t, p.Publish(ctx, r))

	select {
	case pub := <-published:
		assert.Equal(t, "dbc/validation", pub.Topic)
		assert.Equal(t, byte(1), pub.QoS)
		var got Report
		require.NoError(t, jsoniter.Unmarshal(pub.Payload, &got))
		assert.Equal(t, "m.dbc", got.File)
		assert.True(t, got.OK)
	case <-time.After(5 * time.Second):
		t.Fatal("no publish received")
	}

	assert.NoError(t, p.Close())
}
