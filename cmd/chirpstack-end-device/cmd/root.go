package cmd

import (
	"bytes"
	"io/ioutil"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brocaar/chirpstack-end-device/internal/config"
)

var (
	cfgFile string
	version string
)

var rootCmd = &cobra.Command{
	Use:   "chirpstack-end-device",
	Short: "ChirpStack End Device",
	Long: `ChirpStack End Device is an open-source LoRaWAN Class-A / Class-C end-device stack
	> source & copyright information: https://github.com/brocaar/chirpstack-end-device/`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file (optional)")
	rootCmd.PersistentFlags().Int("log-level", 4, "debug=5, info=4, error=2, fatal=1, panic=0")

	viper.BindPFlag("general.log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	// default values
	viper.SetDefault("device.activation", "otaa")
	viper.SetDefault("device.class", "A")
	viper.SetDefault("device.join_interval", 10*time.Second)
	viper.SetDefault("device.battery_level", 255)

	viper.SetDefault("band.name", "EU868")
	viper.SetDefault("band.data_rate", 0)

	viper.SetDefault("uplink.f_port", 1)
	viper.SetDefault("uplink.interval", time.Minute)

	viper.SetDefault("storage.type", "sql")
	viper.SetDefault("storage.redis.url", "redis://localhost:6379")
	viper.SetDefault("storage.redis.key_prefix", "ed:")
	viper.SetDefault("storage.sql.driver", "sqlite3")
	viper.SetDefault("storage.sql.dsn", "file:chirpstack_ed.sqlite")
	viper.SetDefault("storage.sql.automigrate", true)

	viper.SetDefault("radio.type", "mqtt")
	viper.SetDefault("radio.mqtt.server", "tcp://localhost:1883")
	viper.SetDefault("radio.mqtt.clean_session", true)
	viper.SetDefault("radio.mqtt.tx_topic_template", "device/{{ .DevEUI }}/tx")
	viper.SetDefault("radio.mqtt.rx_topic_template", "device/{{ .DevEUI }}/rx")

	viper.SetDefault("frame_log.redis_url", "redis://localhost:6379")

	viper.SetDefault("metrics.prometheus.bind", "0.0.0.0:9100")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(decodeCmd)
}

// Execute executes the root command.
func Execute(v string) {
	version = v

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func initConfig() {
	config.Version = version

	if cfgFile != "" {
		b, err := ioutil.ReadFile(cfgFile)
		if err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
		viper.SetConfigType("toml")
		if err := viper.ReadConfig(bytes.NewBuffer(b)); err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
	} else {
		viper.SetConfigName("chirpstack-end-device")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/chirpstack-end-device")
		viper.AddConfigPath("/etc/chirpstack-end-device")
		if err := viper.ReadInConfig(); err != nil {
			switch err.(type) {
			case viper.ConfigFileNotFoundError:
				log.Warning("No configuration file found, using defaults.")
			default:
				log.WithError(err).Fatal("read configuration file error")
			}
		}
	}

	viperBindEnvs(config.C)

	viperHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := viper.Unmarshal(&config.C, viper.DecodeHook(viperHooks)); err != nil {
		log.WithError(err).Fatal("unmarshal config error")
	}
}

func viperBindEnvs(iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)
	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)
		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			tv = strings.ToLower(t.Name)
		}
		if tv == "-" {
			continue
		}

		switch v.Kind() {
		case reflect.Struct:
			viperBindEnvs(v.Interface(), append(parts, tv)...)
		default:
			// Bash doesn't allow env variable names with a dot so
			// bind the double underscore version.
			keyDot := strings.Join(append(parts, tv), ".")
			keyUnderscore := strings.Join(append(parts, tv), "__")
			viper.BindEnv(keyDot, strings.ToUpper(keyUnderscore))
		}
	}
}
