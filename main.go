package main

import (
	"flag"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
)

const (
	BuildVersion = "0.1.0"
)

type Initializer func(container *Container)

var initializers = make(map[int][]Initializer, 0)

// RegisterInitializer adds an initializer. Initializers with a higher priority run first.
func RegisterInitializer(priority int, initializer Initializer) {
	initializers[priority] = append(initializers[priority], initializer)
}

func runInitializers(container *Container) {
	priorities := make([]int, 0, len(initializers))
	for priority := range initializers {
		priorities = append(priorities, priority)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))
	for _, priority := range priorities {
		for _, initializer := range initializers[priority] {
			initializer(container)
		}
	}
}

func parseLogLevel(level string) log.Level {
	switch level {
	case "panic":
		return log.PanicLevel
	case "fatal":
		return log.FatalLevel
	case "error":
		return log.ErrorLevel
	case "warning":
		return log.WarnLevel
	case "debug":
		return log.DebugLevel
	case "trace":
		return log.TraceLevel
	default:
		return log.InfoLevel
	}
}

func main() {
	var dataDir string
	flag.StringVar(&dataDir, "data-dir", "/data/hdmi2mqtt/", "Sets the directory where the data, including config, files are stored")

	var logLevel string
	flag.StringVar(&logLevel, "log-level", "info", "Sets the log level. Options are panic, fatal, error, warning, info, debug, trace")

	flag.Parse()

	log.SetLevel(parseLogLevel(logLevel))

	log.WithField("version", BuildVersion).Info("Starting Hdmi2Mqtt")

	dataDir = strings.TrimRight(dataDir, "/") + "/"

	container := NewContainer()

	config, err := ParseConfig(dataDir)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Error reading configuration")
	}

	container.Register("config", config)

	adapter := NewDirectoryAdapter(config.Adapter)
	if err := adapter.Watch(); err != nil {
		log.WithFields(log.Fields{
			"path":  config.Adapter.Path,
			"error": err,
		}).Error("Unable to watch input ports, hot-plug events rely on resync")
	}
	defer adapter.Close()

	bridge := NewBridge(config, adapter)
	container.Register("bridge", bridge)

	if config.Mqtt.Host != "" {
		mqtt, err := ConnectMqtt(config)
		if err != nil {
			log.WithFields(log.Fields{
				"host":  config.Mqtt.Host,
				"error": err,
			}).Fatal("Failed to connect to MQTT broker")
		}

		defer mqtt.Disconnect()
		container.Register("mqtt", mqtt)
	}

	runInitializers(container)

	bridge.Start()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	log.Info("Hdmi2Mqtt started")
	<-signals
	log.Info("Exiting")

	bridge.Stop()

	if err := config.Save(dataDir); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Failed to save configuration")
	}
}
