// librelinkup-daemon polls the LibreLinkUp follower API, validates the
// returned readings against the local clock, persists daily glucose
// logs, and publishes the current state over MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/mrcode/librelinkup-daemon/internal/alerts"
	"github.com/mrcode/librelinkup-daemon/internal/dailylog"
	"github.com/mrcode/librelinkup-daemon/internal/librelinkup"
	"github.com/mrcode/librelinkup-daemon/internal/models"
	"github.com/mrcode/librelinkup-daemon/internal/mqtt"
	"github.com/mrcode/librelinkup-daemon/internal/poller"
	"github.com/mrcode/librelinkup-daemon/internal/timecode"
)

var configPath = flag.String("config", "settings.json", "path to the settings file")

func main() {
	flag.Parse()
	defer glog.Flush()

	settings, err := models.LoadSettings(*configPath)
	if err != nil {
		glog.Exitf("loading settings: %v", err)
	}
	if !settings.IsConfigured() {
		glog.Exitf("no credentials configured, edit %s and restart", *configPath)
	}

	client, err := librelinkup.NewClient(settings.BaseURL, settings.Email, settings.Password, settings.CAFile)
	if err != nil {
		glog.Exitf("creating API client: %v", err)
	}
	defer client.Close()

	store, err := dailylog.NewStore(settings.DataDir)
	if err != nil {
		glog.Exitf("opening daily log store: %v", err)
	}

	classifier := timecode.NewClassifier(timecode.SystemClock, settings.TimezoneOffset)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []poller.Option{}
	var notifiers []alerts.Notifier

	if settings.MQTTEnabled {
		publisher, err := mqtt.NewPublisher(ctx, settings)
		if err != nil {
			glog.Exitf("connecting to MQTT broker: %v", err)
		}
		defer func() {
			_ = publisher.Disconnect(context.Background())
		}()
		opts = append(opts, poller.WithPublisher(publisher))
		notifiers = append(notifiers, publisher)
	}

	opts = append(opts, poller.WithAlerts(alerts.NewManager(settings, notifiers...)))

	p := poller.New(settings, client, classifier, store, opts...)

	glog.Infof("librelinkup-daemon starting, polling every %ds", settings.PollInterval)

	switch err := p.Run(ctx); {
	case errors.Is(err, context.Canceled):
		glog.Info("shutting down")
	case errors.Is(err, poller.ErrRestartRequired):
		glog.Error("restart required, exiting for supervisor to relaunch")
		glog.Flush()
		os.Exit(1)
	case err != nil:
		glog.Exitf("poll loop failed: %v", err)
	}
}
