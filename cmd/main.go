package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sacn2lifx/internal/artnet"
	"sacn2lifx/internal/clientmqtt"
	"sacn2lifx/internal/config"
	"sacn2lifx/internal/dispatch"
	"sacn2lifx/internal/engine"
	"sacn2lifx/internal/lifx"
	"sacn2lifx/internal/logger"
	"sacn2lifx/internal/mapping"
	"sacn2lifx/internal/metrics"
	"sacn2lifx/internal/sacn"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}

	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Init(reg)

	lights, mappings, err := cfg.Resolve()
	if err != nil {
		log.With(logger.Fields{"module": "config"}).Errorf("mappings read error: %v", err)
		os.Exit(1)
	}
	devices, err := ConvertLights(lights, cfg.LIFX.Port)
	if err != nil {
		log.With(logger.Fields{"module": "config"}).Errorf("invalid light address book: %v", err)
		os.Exit(1)
	}
	registry := lifx.NewRegistry()
	registry.Replace(devices)

	sink, err := lifx.NewClient(log, ConvertConfigLIFX(cfg.LIFX), registry)
	if err != nil {
		log.With(logger.Fields{"module": "lifx"}).Errorf("error while creating a new lifx client. %v", err)
		os.Exit(1)
	}
	log.With(logger.Fields{"module": "lifx"}).Debugf("NewClient created ok, local address %s", sink.LocalAddr())

	eng := engine.New(log, sink, registry, ConvertConfigDispatch(cfg), cfg.Dispatch.ActivityTimeout.Duration)
	if err := eng.ReplaceMappings(mappings); err != nil {
		log.With(logger.Fields{"module": "config"}).Errorf("mappings rejected: %v", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go sink.Run(ctx)

	var sacnRecv *sacn.Receiver
	if cfg.SACN.Enabled {
		sacnRecv, err = sacn.NewReceiver(log, sacn.Conf{Interface: cfg.SACN.Interface, Port: cfg.SACN.Port}, eng)
		if err != nil {
			log.With(logger.Fields{"module": "sacn"}).Errorf("error while creating a new sacn receiver. %v", err)
			os.Exit(1)
		}
		joinUniverses(log, sacnRecv, eng.Mappings())
		// Mappings applied later (SIGHUP, MQTT) re-join as well.
		eng.OnMappingsApplied(func(snap *mapping.Snapshot) {
			joinUniverses(log, sacnRecv, snap)
		})
		go sacnRecv.Run(ctx)
	}

	var artRecv *artnet.Receiver
	if cfg.ArtNet.Enabled {
		artRecv, err = artnet.NewReceiver(log, ConvertConfigArtNet(cfg.ArtNet), eng)
		if err != nil {
			log.With(logger.Fields{"module": "art-net"}).Errorf("error while creating a new art-net receiver. %v", err)
			os.Exit(1)
		}
		go artRecv.Run(ctx)
	}

	var server *http.Server
	if cfg.Metrics.Listen != "" {
		server = newHTTPServer(cfg.Metrics.Listen, reg, eng)
		go func() {
			log.With(logger.Fields{"module": "http"}).Infof("http listening on %s", cfg.Metrics.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.With(logger.Fields{"module": "http"}).Errorf("http server: %v", err)
			}
		}()
	}

	var client *clientmqtt.ClientMQTT
	if cfg.MQTT.Enabled {
		client = clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT), eng)
		log.With(logger.Fields{"module": "mqtt"}).Debug("NewClient created ok")
		if err = client.Start(ctx); err != nil {
			log.Error("failed to start MQTT service:", err.Error())
			cancel()
		}
	}

	eng.Start(ctx)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-hup:
			reload(log, eng, registry)
		}
	}

	eng.Stop()

	if client != nil {
		if err := client.Stop(); err != nil {
			log.Error("failed to stop MQTT service:", err.Error())
		}
	}
	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		_ = server.Shutdown(shutdownCtx)
		done()
	}
	if artRecv != nil {
		_ = artRecv.Close()
	}
	if sacnRecv != nil {
		_ = sacnRecv.Close()
	}

	eng.Wait()
	_ = sink.Close()

	log.Info("shutdown complete")
}

// reload re-reads the address book and mappings. A bad file keeps the running set.
func reload(log logger.Logger, eng *engine.Engine, registry *lifx.Registry) {
	l := log.With(logger.Fields{"module": "config"})

	cfg, err := config.NewConfig(configFile)
	if err != nil {
		l.Errorf("reload: configuration file read error: %v", err)
		return
	}
	lights, mappings, err := cfg.Resolve()
	if err != nil {
		l.Errorf("reload: %v", err)
		return
	}
	devices, err := ConvertLights(lights, cfg.LIFX.Port)
	if err != nil {
		l.Errorf("reload: %v", err)
		return
	}
	if err := applyConfig(eng, registry, devices, mappings); err != nil {
		l.Errorf("reload: mappings rejected, keeping the active set: %v", err)
		return
	}
	l.Infof("reloaded %d lights", len(devices))
}

// applyConfig installs the address book before the mappings, so a newly mapped
// light already has an address. Rejected mappings restore the previous book.
func applyConfig(eng *engine.Engine, registry *lifx.Registry, devices []lifx.Device, mappings []mapping.Mapping) error {
	prev := registry.All()
	registry.Replace(devices)
	if err := eng.ReplaceMappings(mappings); err != nil {
		registry.Replace(prev)
		return err
	}
	return nil
}

// Joiner follows the universes of the active mapping set.
type Joiner interface {
	SetUniverses(universes []uint16) error
}

func joinUniverses(log logger.Logger, j Joiner, snap *mapping.Snapshot) {
	if err := j.SetUniverses(snap.Universes()); err != nil {
		log.With(logger.Fields{"module": "sacn"}).Warnf("multicast join: %v", err)
	}
}

func newHTTPServer(addr string, reg *prometheus.Registry, eng *engine.Engine) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(eng.Status())
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// ConvertLights builds the LIFX address book.
func ConvertLights(lights []config.LightConf, port int) ([]lifx.Device, error) {
	out := make([]lifx.Device, 0, len(lights))
	for _, l := range lights {
		d, err := lifx.ParseDevice(l.ID, l.IP, l.Label, port)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID:       cfg.ClientID,
		Schema:         cfg.Schema,
		Host:           cfg.Host,
		Port:           cfg.Port,
		User:           cfg.User,
		Password:       cfg.Password,
		Qos:            cfg.Qos,
		TopicPrefix:    cfg.TopicPrefix,
		StatusInterval: cfg.StatusInterval.Duration,
	}
}

// ConvertConfigLIFX преобразует структуры.
func ConvertConfigLIFX(cfg config.LIFXConf) lifx.ClientConf {
	return lifx.ClientConf{
		Bind:        cfg.Bind,
		AckRequired: cfg.AckRequired,
		Kelvin:      cfg.Kelvin,
	}
}

// ConvertConfigArtNet преобразует структуры.
func ConvertConfigArtNet(cfg config.ArtNetConf) artnet.Conf {
	return artnet.Conf{
		Listen:         cfg.Listen,
		CIDR:           cfg.CIDR,
		UniverseOffset: cfg.UniverseOffset,
	}
}

// ConvertConfigDispatch преобразует структуры.
func ConvertConfigDispatch(cfg *config.Config) dispatch.Policy {
	return dispatch.Policy{
		Tick:        cfg.Dispatch.Tick.Duration,
		MinInterval: cfg.Dispatch.MinInterval.Duration,
		Threshold:   cfg.Dispatch.Threshold,
		Fade:        cfg.Dispatch.Fade.Duration,
		SendTimeout: cfg.LIFX.SendTimeout.Duration,
	}
}
