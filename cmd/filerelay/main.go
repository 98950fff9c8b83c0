/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Command filerelay is the CLI surface described in §6: it parses
// flags with pflag, loads the config file, brings up the relay
// endpoint and transfer controller, and dispatches to monitor, list,
// or send mode.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/elitcoder/transferclient/pkg/config"
	"github.com/elitcoder/transferclient/pkg/metrics"
	"github.com/elitcoder/transferclient/pkg/netconn"
	"github.com/elitcoder/transferclient/pkg/transfer"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		monitor     bool
		list        bool
		sendFiles   []string
		target      string
		recurse     bool
		configPath  string
		metricsAddr string
		verbose     bool
	)

	flag.BoolVarP(&monitor, "monitor", "m", false, "run in monitoring mode, accepting incoming transfers (default if no other mode is given)")
	flag.BoolVarP(&list, "list", "l", false, "list hosts registered with the server")
	flag.StringArrayVarP(&sendFiles, "send", "s", nil, "file or directory to send (repeatable)")
	flag.StringVarP(&target, "target", "t", "", "name of the peer to send to, required with -s")
	flag.BoolVarP(&recurse, "recurse", "r", false, "recurse into directories passed to -s")
	flag.StringVar(&configPath, "config", "config", "path to the configuration file")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	flag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flag.Parse()

	log := newLogger(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Error("failed loading configuration")
		return -1
	}

	if len(sendFiles) > 0 && target == "" {
		log.Error("-t NAME is required with -s")
		return -1
	}

	role := transfer.RoleReceiver
	if len(sendFiles) > 0 {
		role = transfer.RoleSender
	}

	relay := netconn.New(log)
	if err := relay.Start(cfg.Host, cfg.Port, false); err != nil {
		log.WithError(err).Errorf("failed connecting to %s:%d", cfg.Host, cfg.Port)
		return -1
	}

	collector := metrics.NewCollector([]string{"peer"}, prometheus.Labels{"client_name": cfg.Name}, log)
	if metricsAddr != "" {
		serveMetrics(metricsAddr, collector, log)
	}

	ctrl := transfer.New(cfg, role, relay, log)
	ctrl.Metrics = collector
	ctrl.TrackRelay()
	go ctrl.RunPacketThread(relay)
	defer ctrl.Shutdown()

	if err := ctrl.StartSession(cfg.Name); err != nil {
		log.WithError(err).Error("failed to register with server")
		return -1
	}

	switch {
	case list:
		return doList(ctrl, log)
	case len(sendFiles) > 0:
		return doSend(ctrl, target, sendFiles, recurse, log)
	default:
		return doMonitor(ctrl, log)
	}
}

func newLogger(verbose bool) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return logrus.NewEntry(l)
}

func serveMetrics(addr string, collector prometheus.Collector, log *logrus.Entry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Warn("metrics server exited")
		}
	}()
	log.Infof("serving metrics on %s/metrics", addr)
}

func doList(ctrl *transfer.Controller, log *logrus.Entry) int {
	hosts, err := ctrl.ListHosts()
	if err != nil {
		log.WithError(err).Error("failed listing hosts")
		return -1
	}
	for _, h := range hosts {
		fmt.Printf("%d\t%s\n", h.ID, h.Name)
	}
	return 0
}

func doSend(ctrl *transfer.Controller, target string, files []string, recurse bool, log *logrus.Entry) int {
	status := 0
	for _, f := range files {
		if err := ctrl.SendPath(target, f, recurse); err != nil {
			log.WithError(err).Errorf("failed sending %s", f)
			status = -1
		}
	}
	return status
}

func doMonitor(ctrl *transfer.Controller, log *logrus.Entry) int {
	log.Infof("monitoring for incoming transfers as %q", ctrl.Relay().ID.String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	return 0
}
