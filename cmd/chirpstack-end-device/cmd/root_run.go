package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-end-device/internal/band"
	"github.com/brocaar/chirpstack-end-device/internal/certification"
	"github.com/brocaar/chirpstack-end-device/internal/config"
	"github.com/brocaar/chirpstack-end-device/internal/framelog"
	"github.com/brocaar/chirpstack-end-device/internal/gps"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	"github.com/brocaar/chirpstack-end-device/internal/mac"
	"github.com/brocaar/chirpstack-end-device/internal/metrics"
	"github.com/brocaar/chirpstack-end-device/internal/radio"
	"github.com/brocaar/chirpstack-end-device/internal/radio/mqtt"
	"github.com/brocaar/chirpstack-end-device/internal/storage"
	"github.com/brocaar/chirpstack-end-device/internal/uplink"
)

// maxPendingUplinks limits the number of answer uplinks sent after a
// single application uplink.
const maxPendingUplinks = 8

var (
	store         storage.Store
	mqttRadio     *mqtt.Radio
	deviceRadio   radio.Radio
	device        *mac.Device
	uplinkPayload []byte
)

func run(cmd *cobra.Command, args []string) error {
	tasks := []func() error{
		setLogLevel,
		setSyslog,
		printStartMessage,
		setupBand,
		setupMetrics,
		setupStorage,
		setupRadio,
		setupDevice,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	doneChan := make(chan struct{})
	go func() {
		runDevice(ctx)
		close(doneChan)
	}()

	sigChan := make(chan os.Signal, 1)
	exitChan := make(chan struct{})
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case s := <-sigChan:
		log.WithField("signal", s).Info("signal received")
	case <-doneChan:
		log.Warning("device stopped")
	}

	go func() {
		log.Warning("stopping chirpstack-end-device")
		cancel()
		<-doneChan
		if err := mqttRadio.Close(); err != nil {
			log.Fatal(err)
		}
		exitChan <- struct{}{}
	}()
	select {
	case <-exitChan:
	case s := <-sigChan:
		log.WithField("signal", s).Info("signal received, stopping immediately")
	}

	return nil
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version": version,
		"dev_eui": config.C.Device.DevEUI,
		"band":    config.C.Band.Name,
		"class":   config.C.Device.Class,
	}).Info("starting ChirpStack End Device")
	return nil
}

func setupBand() error {
	if err := band.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup band error")
	}
	return nil
}

func setupMetrics() error {
	if err := metrics.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup metrics error")
	}
	return nil
}

func setupStorage() error {
	var err error
	store, err = storage.Setup(config.C)
	if err != nil {
		return errors.Wrap(err, "setup storage error")
	}
	return nil
}

func setupRadio() error {
	if t := config.C.Radio.Type; t != "mqtt" {
		return fmt.Errorf("unknown radio type: %s", t)
	}

	var err error
	mqttRadio, err = mqtt.NewRadio(config.C)
	if err != nil {
		return errors.Wrap(err, "setup mqtt radio error")
	}
	deviceRadio = mqttRadio

	if !config.C.FrameLog.Enabled {
		return nil
	}

	opt, err := redis.ParseURL(config.C.FrameLog.RedisURL)
	if err != nil {
		return errors.Wrap(err, "parse frame-log redis url error")
	}

	log.WithField("dev_eui", config.C.Device.DevEUI).Info("enabling frame-log")
	deviceRadio = framelog.NewRadio(mqttRadio, redis.NewClient(opt), config.C.Device.DevEUI)
	return nil
}

func setupDevice() error {
	class, err := parseClass(config.C.Device.Class)
	if err != nil {
		return err
	}

	uplinkPayload, err = hex.DecodeString(config.C.Uplink.Payload)
	if err != nil {
		return errors.Wrap(err, "decode uplink payload error")
	}

	battery := config.C.Device.BatteryLevel
	clock := gps.NewClock(nil)

	m, err := mac.New(mac.Config{
		DevEUI:   config.C.Device.DevEUI,
		JoinEUI:  config.C.Device.JoinEUI,
		AppKey:   config.C.Device.AppKey,
		Class:    class,
		DataRate: config.C.Band.DataRate,
		TXPower:  config.C.Band.TXPower,
		ADR:      config.C.Band.ADR,
		RXWindow: config.C.Band.RXWindow,
		Battery: func() uint8 {
			return battery
		},
		DeviceTime: func(sinceGPSEpoch time.Duration) {
			clock.Sync(sinceGPSEpoch)
			log.WithFields(log.Fields{
				"gps_time":     sinceGPSEpoch,
				"network_time": clock.Now(),
			}).Info("device time synchronized")
		},
		Now: clock.Now,
	}, band.New(), store)
	if err != nil {
		return errors.Wrap(err, "new mac error")
	}

	device = mac.NewDevice(m, deviceRadio, radio.NewSystemTimer())
	return nil
}

func parseClass(s string) (certification.Class, error) {
	switch strings.ToUpper(s) {
	case "", "A":
		return certification.ClassA, nil
	case "C":
		return certification.ClassC, nil
	default:
		return 0, fmt.Errorf("unsupported device class: %s", s)
	}
}

func runDevice(ctx context.Context) {
	if err := activate(ctx); err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Error("activation error")
		}
		return
	}

	for {
		if err := sendUplink(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("send uplink error")
		}

		interval := config.C.Uplink.Interval
		if p := device.Certification().TxPeriodicity; p != 0 {
			interval = p
		}

		if err := wait(ctx, interval); err != nil {
			return
		}
	}
}

func activate(ctx context.Context) error {
	ok, err := device.Restore(ctx)
	if err != nil {
		return errors.Wrap(err, "restore device-session error")
	}
	if ok {
		return nil
	}

	if config.C.Device.Activation == "abp" {
		return device.ActivateABP(ctx, lorawan.SessionKeys{
			DevAddr: config.C.Device.ABP.DevAddr,
			NwkSKey: config.C.Device.ABP.NwkSKey,
			AppSKey: config.C.Device.ABP.AppSKey,
		})
	}

	return join(ctx)
}

// join joins the network. When JoinRetries is 0, it retries until the
// context is cancelled.
func join(ctx context.Context) error {
	retries := config.C.Device.JoinRetries

	for i := 0; retries == 0 || i < retries; i++ {
		_, err := device.Join(ctx)
		if err == nil {
			return nil
		}
		if errors.Cause(err) != mac.ErrNoJoinAccept {
			return errors.Wrap(err, "join error")
		}

		log.WithFields(log.Fields{
			"attempt":  i + 1,
			"interval": config.C.Device.JoinInterval,
		}).Warning("no join-accept received, retrying")

		select {
		case <-time.After(config.C.Device.JoinInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return mac.ErrNoJoinAccept
}

func sendUplink(ctx context.Context) error {
	res, err := device.Send(ctx, config.C.Uplink.FPort, uplinkPayload, config.C.Uplink.Confirmed)
	if err := handleResult(ctx, res, err); err != nil {
		return err
	}
	return sendPending(ctx, res)
}

// sendPending sends the pending application-layer answers.
func sendPending(ctx context.Context, res mac.Result) error {
	for i := 0; res.Pending && i < maxPendingUplinks; i++ {
		var err error
		res, err = device.SendPending(ctx)
		if err := handleResult(ctx, res, err); err != nil {
			return err
		}
	}
	return nil
}

func handleResult(ctx context.Context, res mac.Result, err error) error {
	if err != nil {
		if !isCapacityError(err) {
			return err
		}
		log.WithError(err).Warning("mac answer dropped")
	}

	log.WithFields(log.Fields{
		"status":     res.Status,
		"f_cnt_up":   res.FCntUp,
		"ack":        res.ACK,
		"f_cnt_down": res.FCntDown,
	}).Info("mac cycle completed")

	if dl, ok := device.TakeDownlink(); ok {
		log.WithFields(log.Fields{
			"f_port":    dl.FPort,
			"f_cnt":     dl.FCnt,
			"multicast": dl.Multicast,
			"payload":   hex.EncodeToString(dl.Payload),
			"rssi":      dl.Quality.RSSI,
			"snr":       dl.Quality.SNR,
		}).Info("downlink received")
	}

	for _, a := range res.Actions {
		log.WithField("action", a).Info("handling certification action")

		switch a {
		case certification.ActionReset:
			if err := device.Reset(ctx); err != nil {
				return errors.Wrap(err, "reset error")
			}
		case certification.ActionJoin:
			if err := join(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

// wait waits for the given duration. A Class-C device listens for
// downlinks in the meantime.
func wait(ctx context.Context, d time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	for {
		if device.Class() != certification.ClassC {
			<-wctx.Done()
			return ctx.Err()
		}

		res, err := device.Listen(wctx)
		if err != nil {
			if wctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Cause(err) != mac.ErrListenStopped {
				log.WithError(err).Error("listen error")
				<-wctx.Done()
				return ctx.Err()
			}
			continue
		}

		if err := handleResult(ctx, res, nil); err != nil {
			log.WithError(err).Error("handle downlink error")
			continue
		}
		if err := sendPending(ctx, res); err != nil {
			log.WithError(err).Error("send pending error")
		}
	}
}

func isCapacityError(err error) bool {
	switch errors.Cause(err) {
	case uplink.ErrAnswerCapacity, storage.ErrMaxGroups:
		return true
	}
	return false
}
