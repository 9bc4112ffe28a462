package cmd

import (
	"bytes"
	"io/ioutil"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/config"
)

var (
	cfgFile    string
	cpuprofile string
	version    string
)

var rootCmd = &cobra.Command{
	Use:   "chirpstack-devaddr-cache",
	Short: "ChirpStack DevAddr Cache",
	Long: `ChirpStack DevAddr Cache is the shared DevAddr lookup and concentrator
	deduplication support-layer for a ChirpStack-style LoRaWAN network-server
	cluster.
	> source & copyright information: https://github.com/brocaar/chirpstack-devaddr-cache/`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file (optional)")
	rootCmd.PersistentFlags().StringVarP(&cpuprofile, "cpu-profile", "", "", "write cpu profile to file (optional)")
	rootCmd.PersistentFlags().Int("log-level", 4, "debug=5, info=4, error=2, fatal=1, panic=0")

	viper.BindPFlag("general.log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	// default values
	viper.SetDefault("redis.servers", []string{"localhost:6379"})
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dial_timeout", 5*time.Second)

	viper.SetDefault("concentrator_dedup.entry_ttl", 2*time.Minute)

	viper.SetDefault("devaddr_cache.full_reload_lease_ttl", time.Hour)
	viper.SetDefault("devaddr_cache.full_reload_retry_ttl", time.Minute)
	viper.SetDefault("devaddr_cache.global_update_lease_ttl", time.Minute)
	viper.SetDefault("devaddr_cache.per_devaddr_lease_ttl", 10*time.Second)
	viper.SetDefault("devaddr_cache.per_devaddr_poll_interval", 100*time.Millisecond)
	viper.SetDefault("devaddr_cache.sync_interval", time.Minute)
	viper.SetDefault("devaddr_cache.registry_page_size", 100)
	viper.SetDefault("devaddr_cache.negative_cache_ttl", 5*time.Minute)

	viper.SetDefault("iot_hub.request_timeout", 10*time.Second)

	viper.SetDefault("metrics.prometheus.endpoint_enabled", false)
	viper.SetDefault("metrics.prometheus.bind", "0.0.0.0:9100")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
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
		viper.SetConfigName("chirpstack-devaddr-cache")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/chirpstack-devaddr-cache")
		viper.AddConfigPath("/etc/chirpstack-devaddr-cache")
		if err := viper.ReadInConfig(); err != nil {
			switch err.(type) {
			case viper.ConfigFileNotFoundError:
				log.Warning("No configuration file found, using defaults.")
			default:
				log.WithError(err).Fatal("read configuration file error")
			}
		}
	}

	for _, pair := range os.Environ() {
		d := strings.SplitN(pair, "=", 2)
		if strings.Contains(d[0], ".") {
			log.Warning("Using dots in env variable is illegal and deprecated. Please use double underscore `__` for: ", d[0])
			underscoreName := strings.ReplaceAll(d[0], ".", "__")
			// Set only when the underscore version doesn't already exist.
			if _, exists := os.LookupEnv(underscoreName); !exists {
				os.Setenv(underscoreName, d[1])
			}
		}
	}

	viperBindEnvs(config.C)

	viperHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := viper.Unmarshal(&config.C, viper.DecodeHook(viperHooks)); err != nil {
		log.WithError(err).Fatal("unmarshal config error")
	}

	if config.C.Redis.URL != "" {
		opt, err := redis.ParseURL(config.C.Redis.URL)
		if err != nil {
			log.WithError(err).Fatal("redis url error")
		}

		config.C.Redis.Servers = []string{opt.Addr}
		config.C.Redis.Database = opt.DB
		config.C.Redis.Password = opt.Password
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
