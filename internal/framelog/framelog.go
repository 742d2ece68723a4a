// Package framelog publishes the transmitted and received frames of a
// device to Redis pub-sub keys.
package framelog

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	"github.com/brocaar/chirpstack-end-device/internal/radio"
)

const (
	uplinkPubSubKeyTempl   = "lora:ed:%s:pubsub:frame:uplink"
	downlinkPubSubKeyTempl = "lora:ed:%s:pubsub:frame:downlink"
)

// UplinkFrameLog contains the details of a transmitted frame.
type UplinkFrameLog struct {
	PHYPayload []byte
	TxConfig   radio.TxConfig
	Time       time.Time
}

// DownlinkFrameLog contains the details of a received frame.
type DownlinkFrameLog struct {
	PHYPayload []byte
	RxConfig   radio.RxConfig
	Quality    radio.Quality
	Time       time.Time
}

// FrameLog contains either an uplink or downlink frame.
type FrameLog struct {
	UplinkFrame   *UplinkFrameLog
	DownlinkFrame *DownlinkFrameLog
}

// Radio wraps a radio.Radio and logs every transmitted and received frame.
// Publish errors are logged and never returned to the caller.
type Radio struct {
	radio.Radio

	client      redis.UniversalClient
	uplinkKey   string
	downlinkKey string
	rxConfig    radio.RxConfig
}

// NewRadio returns a new Radio logging the frames of the given DevEUI.
func NewRadio(r radio.Radio, client redis.UniversalClient, devEUI lorawan.EUI64) *Radio {
	return &Radio{
		Radio:       r,
		client:      client,
		uplinkKey:   fmt.Sprintf(uplinkPubSubKeyTempl, devEUI),
		downlinkKey: fmt.Sprintf(downlinkPubSubKeyTempl, devEUI),
	}
}

// Transmit implements radio.Radio.
func (r *Radio) Transmit(ctx context.Context, c radio.TxConfig, payload []byte) (int, error) {
	n, err := r.Radio.Transmit(ctx, c, payload)
	if err != nil {
		return n, err
	}

	r.publish(ctx, r.uplinkKey, UplinkFrameLog{
		PHYPayload: payload,
		TxConfig:   c,
		Time:       time.Now(),
	})

	return n, nil
}

// ConfigureReceive implements radio.Radio.
func (r *Radio) ConfigureReceive(c radio.RxConfig) error {
	if err := r.Radio.ConfigureReceive(c); err != nil {
		return err
	}
	r.rxConfig = c
	return nil
}

// ReceiveUntil implements radio.Radio.
func (r *Radio) ReceiveUntil(ctx context.Context, target radio.RxTarget) (radio.RxResult, error) {
	res, err := r.Radio.ReceiveUntil(ctx, target)
	if err != nil || res.Preamble {
		return res, err
	}

	// the receive context might already be cancelled by the window close
	r.publish(context.Background(), r.downlinkKey, DownlinkFrameLog{
		PHYPayload: res.Payload,
		RxConfig:   r.rxConfig,
		Quality:    res.Quality,
		Time:       time.Now(),
	})

	return res, nil
}

func (r *Radio) publish(ctx context.Context, key string, v interface{}) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		log.WithError(err).Error("framelog: gob encode error")
		return
	}

	if err := r.client.Publish(ctx, key, buf.Bytes()).Err(); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"key":    key,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Error("framelog: publish frame error")
	}
}

// GetFrameLogForDevice subscribes to the uplink and downlink frame logs of
// the given device and sends these to the given channel. It blocks until
// the context is cancelled.
func GetFrameLogForDevice(ctx context.Context, client redis.UniversalClient, devEUI lorawan.EUI64, frameLogChan chan FrameLog) error {
	uplinkKey := fmt.Sprintf(uplinkPubSubKeyTempl, devEUI)
	downlinkKey := fmt.Sprintf(downlinkPubSubKeyTempl, devEUI)

	sub := client.Subscribe(ctx, uplinkKey, downlinkKey)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe error")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			fl, err := redisMessageToFrameLog(msg, uplinkKey, downlinkKey)
			if err != nil {
				return errors.Wrap(err, "decode message error")
			}

			select {
			case frameLogChan <- fl:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func redisMessageToFrameLog(msg *redis.Message, uplinkKey, downlinkKey string) (FrameLog, error) {
	var fl FrameLog

	switch msg.Channel {
	case uplinkKey:
		fl.UplinkFrame = &UplinkFrameLog{}
		if err := gob.NewDecoder(bytes.NewReader([]byte(msg.Payload))).Decode(fl.UplinkFrame); err != nil {
			return fl, errors.Wrap(err, "gob decode uplink frame error")
		}
	case downlinkKey:
		fl.DownlinkFrame = &DownlinkFrameLog{}
		if err := gob.NewDecoder(bytes.NewReader([]byte(msg.Payload))).Decode(fl.DownlinkFrame); err != nil {
			return fl, errors.Wrap(err, "gob decode downlink frame error")
		}
	}

	return fl, nil
}
