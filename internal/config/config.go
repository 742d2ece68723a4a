package config

import (
	"time"

	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// Version defines the ChirpStack End Device version.
var Version string

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel    int  `mapstructure:"log_level"`
		LogToSyslog bool `mapstructure:"log_to_syslog"`
	} `mapstructure:"general"`

	Device struct {
		// Activation is either otaa or abp.
		Activation string `mapstructure:"activation"`

		// Class is either A or C.
		Class string `mapstructure:"class"`

		DevEUI  lorawan.EUI64     `mapstructure:"dev_eui"`
		JoinEUI lorawan.EUI64     `mapstructure:"join_eui"`
		AppKey  lorawan.AES128Key `mapstructure:"app_key"`

		JoinRetries  int           `mapstructure:"join_retries"`
		JoinInterval time.Duration `mapstructure:"join_interval"`

		ABP struct {
			DevAddr lorawan.DevAddr   `mapstructure:"dev_addr"`
			NwkSKey lorawan.AES128Key `mapstructure:"nwk_s_key"`
			AppSKey lorawan.AES128Key `mapstructure:"app_s_key"`
		} `mapstructure:"abp"`

		// BatteryLevel is reported in DevStatusAns (0 = external power,
		// 255 = unknown).
		BatteryLevel uint8 `mapstructure:"battery_level"`
	} `mapstructure:"device"`

	Band struct {
		Name                 string `mapstructure:"name"`
		SubBand              int    `mapstructure:"sub_band"`
		JoinSubBand          int    `mapstructure:"join_sub_band"`
		UplinkDwellTime400ms bool   `mapstructure:"uplink_dwell_time_400ms"`
		RepeaterCompatible   bool   `mapstructure:"repeater_compatible"`
		DataRate             int    `mapstructure:"data_rate"`
		TXPower              int    `mapstructure:"tx_power"`
		ADR                  bool   `mapstructure:"adr"`

		// RXWindow selects the receive windows which are opened after an
		// uplink: 0 = RX1 and RX2, 1 = RX1 only, 2 = RX2 only.
		RXWindow int `mapstructure:"rx_window"`

		ExtraChannels []struct {
			Index     int    `mapstructure:"index"`
			Frequency uint32 `mapstructure:"frequency"`
			MinDR     int    `mapstructure:"min_dr"`
			MaxDR     int    `mapstructure:"max_dr"`
		} `mapstructure:"extra_channels"`
	} `mapstructure:"band"`

	Uplink struct {
		FPort     uint8         `mapstructure:"f_port"`
		Interval  time.Duration `mapstructure:"interval"`
		Confirmed bool          `mapstructure:"confirmed"`
		Payload   string        `mapstructure:"payload"`
	} `mapstructure:"uplink"`

	Storage struct {
		// Type is either memory, redis or sql.
		Type string `mapstructure:"type"`

		Redis struct {
			URL       string        `mapstructure:"url"`
			KeyPrefix string        `mapstructure:"key_prefix"`
			TTL       time.Duration `mapstructure:"ttl"`
		} `mapstructure:"redis"`

		SQL struct {
			// Driver is either postgres or sqlite3.
			Driver      string `mapstructure:"driver"`
			DSN         string `mapstructure:"dsn"`
			Automigrate bool   `mapstructure:"automigrate"`
		} `mapstructure:"sql"`
	} `mapstructure:"storage"`

	Radio struct {
		Type string `mapstructure:"type"`

		MQTT struct {
			Server       string `mapstructure:"server"`
			Username     string `mapstructure:"username"`
			Password     string `mapstructure:"password"`
			QOS          uint8  `mapstructure:"qos"`
			CleanSession bool   `mapstructure:"clean_session"`
			ClientID     string `mapstructure:"client_id"`
			CACert       string `mapstructure:"ca_cert"`
			TLSCert      string `mapstructure:"tls_cert"`
			TLSKey       string `mapstructure:"tls_key"`

			TXTopicTemplate string `mapstructure:"tx_topic_template"`
			RXTopicTemplate string `mapstructure:"rx_topic_template"`
		} `mapstructure:"mqtt"`
	} `mapstructure:"radio"`

	FrameLog struct {
		Enabled  bool   `mapstructure:"enabled"`
		RedisURL string `mapstructure:"redis_url"`
	} `mapstructure:"frame_log"`

	Metrics struct {
		Prometheus struct {
			EndpointEnabled bool   `mapstructure:"endpoint_enabled"`
			Bind            string `mapstructure:"bind"`
		} `mapstructure:"prometheus"`
	} `mapstructure:"metrics"`
}

// C holds the global configuration.
var C Config
