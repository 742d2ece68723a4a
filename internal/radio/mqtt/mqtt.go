// Package mqtt implements a radio which exchanges the LoRaWAN frames with a
// simulated gateway over MQTT.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"text/template"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/config"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	"github.com/brocaar/chirpstack-end-device/internal/radio"
	"github.com/brocaar/chirpstack-end-device/internal/tls"
)

// TXFrame holds a transmitted frame, as published on the tx topic.
type TXFrame struct {
	DevEUI          lorawan.EUI64 `json:"devEUI"`
	Frequency       uint32        `json:"frequency"`
	DR              int           `json:"dr"`
	SpreadingFactor int           `json:"spreadingFactor"`
	Bandwidth       int           `json:"bandwidth"`
	Power           int           `json:"power"`
	PHYPayload      []byte        `json:"phyPayload"`
}

// RXFrame holds a frame to be received by the device, as published on the
// rx topic.
type RXFrame struct {
	Frequency  uint32  `json:"frequency"`
	DR         int     `json:"dr"`
	RSSI       int     `json:"rssi"`
	SNR        float64 `json:"snr"`
	PHYPayload []byte  `json:"phyPayload"`
}

// Radio implements a MQTT radio.
type Radio struct {
	sync.Mutex

	devEUI  lorawan.EUI64
	qos     uint8
	txTopic string
	rxTopic string

	conn    paho.Client
	publish func(topic string, b []byte) error

	busy     bool
	rxConfig *radio.RxConfig
	rxChan   chan RXFrame
	cancel   chan struct{}
	preamble *RXFrame
}

// NewRadio creates a new MQTT radio and connects to the MQTT broker.
func NewRadio(c config.Config) (*Radio, error) {
	conf := c.Radio.MQTT

	r, err := newRadio(c.Device.DevEUI, conf.QOS, conf.TXTopicTemplate, conf.RXTopicTemplate)
	if err != nil {
		return nil, err
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Server)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetCleanSession(conf.CleanSession)
	opts.SetClientID(conf.ClientID)
	opts.SetOnConnectHandler(r.onConnected)
	opts.SetConnectionLostHandler(r.onConnectionLost)

	tlsconfig, err := tls.NewClientConfig(conf.CACert, conf.TLSCert, conf.TLSKey)
	if err != nil {
		return nil, errors.Wrap(err, "radio/mqtt: load tls configuration error")
	}
	if tlsconfig != nil {
		opts.SetTLSConfig(tlsconfig)
	}

	log.WithField("server", conf.Server).Info("radio/mqtt: connecting to mqtt broker")
	r.conn = paho.NewClient(opts)
	if token := r.conn.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "radio/mqtt: connect to mqtt broker error")
	}

	r.publish = func(topic string, b []byte) error {
		if token := r.conn.Publish(topic, r.qos, false, b); token.Wait() && token.Error() != nil {
			return token.Error()
		}
		return nil
	}

	return r, nil
}

func newRadio(devEUI lorawan.EUI64, qos uint8, txTemplate, rxTemplate string) (*Radio, error) {
	r := Radio{
		devEUI: devEUI,
		qos:    qos,
		rxChan: make(chan RXFrame, 1),
	}

	var err error
	r.txTopic, err = executeTemplate("tx", txTemplate, devEUI)
	if err != nil {
		return nil, err
	}
	r.rxTopic, err = executeTemplate("rx", rxTemplate, devEUI)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

// Close unsubscribes from the rx topic and disconnects from the broker.
func (r *Radio) Close() error {
	if r.conn == nil {
		return nil
	}

	log.WithField("topic", r.rxTopic).Info("radio/mqtt: unsubscribing from rx topic")
	if token := r.conn.Unsubscribe(r.rxTopic); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "radio/mqtt: unsubscribe from %s error", r.rxTopic)
	}
	r.conn.Disconnect(250)
	return nil
}

// Transmit implements radio.Radio.
func (r *Radio) Transmit(ctx context.Context, c radio.TxConfig, payload []byte) (int, error) {
	r.Lock()
	if r.busy {
		r.Unlock()
		return 0, radio.ErrBusy
	}
	r.busy = true
	r.cancelReceive()
	r.Unlock()

	defer func() {
		r.Lock()
		r.busy = false
		r.Unlock()
	}()

	b, err := json.Marshal(TXFrame{
		DevEUI:          r.devEUI,
		Frequency:       c.Frequency,
		DR:              c.DR,
		SpreadingFactor: c.DataRate.SpreadFactor,
		Bandwidth:       c.DataRate.Bandwidth,
		Power:           c.Power,
		PHYPayload:      payload,
	})
	if err != nil {
		return 0, errors.Wrap(err, "radio/mqtt: marshal tx frame error")
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"topic":     r.txTopic,
		"qos":       r.qos,
		"frequency": c.Frequency,
		"dr":        c.DR,
	}).Info("radio/mqtt: publishing tx frame")

	if err := r.publish(r.txTopic, b); err != nil {
		mqttEventCounter("tx_error").Inc()
		return 0, errors.Wrap(err, "radio/mqtt: publish tx frame error")
	}
	mqttEventCounter("tx").Inc()

	return len(payload), nil
}

// ConfigureReceive implements radio.Radio.
func (r *Radio) ConfigureReceive(c radio.RxConfig) error {
	r.Lock()
	defer r.Unlock()

	if r.busy {
		return radio.ErrBusy
	}

	r.cancelReceive()
	r.rxConfig = &c
	r.cancel = make(chan struct{})
	return nil
}

// ReceiveUntil implements radio.Radio.
func (r *Radio) ReceiveUntil(ctx context.Context, target radio.RxTarget) (radio.RxResult, error) {
	r.Lock()
	if r.rxConfig == nil {
		r.Unlock()
		return radio.RxResult{}, radio.ErrNotConfigured
	}
	continuous := r.rxConfig.Continuous
	cancel := r.cancel

	if r.preamble != nil && target == radio.RxTargetPacket {
		f := *r.preamble
		r.preamble = nil
		r.finishReceive(continuous)
		r.Unlock()
		return rxResult(f), nil
	}
	r.Unlock()

	select {
	case f := <-r.rxChan:
		r.Lock()
		defer r.Unlock()

		if target == radio.RxTargetPreamble {
			r.preamble = &f
			return radio.RxResult{Preamble: true}, nil
		}

		r.finishReceive(continuous)
		return rxResult(f), nil
	case <-cancel:
		return radio.RxResult{}, radio.ErrCancelled
	case <-ctx.Done():
		return radio.RxResult{}, ctx.Err()
	}
}

// EnterLowPower implements radio.Radio.
func (r *Radio) EnterLowPower() error {
	r.Lock()
	defer r.Unlock()

	log.Debug("radio/mqtt: entering low-power mode")
	r.cancelReceive()
	return nil
}

// Cancel implements radio.Radio.
func (r *Radio) Cancel() error {
	r.Lock()
	defer r.Unlock()

	r.cancelReceive()
	return nil
}

// cancelReceive must be called with the lock held.
func (r *Radio) cancelReceive() {
	if r.cancel != nil {
		close(r.cancel)
		r.cancel = nil
	}
	r.rxConfig = nil
	r.preamble = nil

	select {
	case <-r.rxChan:
	default:
	}
}

// finishReceive must be called with the lock held.
func (r *Radio) finishReceive(continuous bool) {
	if !continuous {
		r.rxConfig = nil
	}
}

func (r *Radio) handleRXFrame(b []byte) {
	var f RXFrame
	if err := json.Unmarshal(b, &f); err != nil {
		mqttEventCounter("rx_invalid").Inc()
		log.WithError(err).Error("radio/mqtt: unmarshal rx frame error")
		return
	}

	r.Lock()
	defer r.Unlock()

	if r.rxConfig == nil {
		mqttEventCounter("rx_not_receiving").Inc()
		log.WithField("frequency", f.Frequency).Debug("radio/mqtt: frame ignored, receiver is off")
		return
	}

	if f.Frequency != r.rxConfig.Frequency || f.DR != r.rxConfig.DR {
		mqttEventCounter("rx_mismatch").Inc()
		log.WithFields(log.Fields{
			"frequency":          f.Frequency,
			"dr":                 f.DR,
			"expected_frequency": r.rxConfig.Frequency,
			"expected_dr":        r.rxConfig.DR,
		}).Debug("radio/mqtt: frame ignored, frequency or data-rate mismatch")
		return
	}

	select {
	case r.rxChan <- f:
		mqttEventCounter("rx").Inc()
	default:
		mqttEventCounter("rx_overflow").Inc()
		log.Warning("radio/mqtt: frame dropped, previous frame not yet consumed")
	}
}

func (r *Radio) rxFrameHandler(c paho.Client, msg paho.Message) {
	r.handleRXFrame(msg.Payload())
}

func (r *Radio) onConnected(c paho.Client) {
	mqttConnectCounter().Inc()
	log.Info("radio/mqtt: connected to mqtt server")

	for {
		log.WithFields(log.Fields{
			"topic": r.rxTopic,
			"qos":   r.qos,
		}).Info("radio/mqtt: subscribing to rx topic")
		if token := c.Subscribe(r.rxTopic, r.qos, r.rxFrameHandler); token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).WithFields(log.Fields{
				"topic": r.rxTopic,
				"qos":   r.qos,
			}).Error("radio/mqtt: subscribe error")
			time.Sleep(time.Second)
			continue
		}
		break
	}
}

func (r *Radio) onConnectionLost(c paho.Client, reason error) {
	mqttDisconnectCounter().Inc()
	log.WithError(reason).Error("radio/mqtt: mqtt connection error")
}

func rxResult(f RXFrame) radio.RxResult {
	return radio.RxResult{
		Payload: f.PHYPayload,
		Quality: radio.Quality{
			RSSI: f.RSSI,
			SNR:  f.SNR,
		},
	}
}

func executeTemplate(name, tmpl string, devEUI lorawan.EUI64) (string, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return "", errors.Wrapf(err, "radio/mqtt: parse %s topic template error", name)
	}

	topic := bytes.NewBuffer(nil)
	if err := t.Execute(topic, struct{ DevEUI lorawan.EUI64 }{devEUI}); err != nil {
		return "", errors.Wrapf(err, "radio/mqtt: execute %s topic template error", name)
	}
	return topic.String(), nil
}
