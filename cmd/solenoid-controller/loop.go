package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/solenoid-controller/internal/mqtt"
	"github.com/sweeney/solenoid-controller/internal/solenoid"
	"github.com/sweeney/solenoid-controller/internal/status"
)

// statusInterval is how often the tracker is refreshed and queued events are
// published.
const statusInterval = 50 * time.Millisecond

// errCalibrationTimeout is returned by calibrate when the deadline passes
// before every port has been measured.
var errCalibrationTimeout = errors.New("calibration timed out")

// runLoop drives the controller until a signal arrives. pub, cmds and
// mqttStatus may be nil when MQTT is disabled.
func runLoop(ctrl *solenoid.Controller, cmds <-chan mqtt.Trigger, pub mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, logger *zap.Logger, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	lastHeartbeat := startTime
	var lastStatus time.Time

	for {
		select {
		case s := <-sig:
			logger.Info("shutting down", zap.Stringer("signal", s))
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}

			refreshStatus(ctrl, mqttStatus, tracker, now())
			snap := tracker.Snapshot()

			// Switch everything off before announcing it.
			ctrl.Reset()

			if pub == nil {
				return nil
			}
			event := mqtt.SystemEvent{
				Timestamp:  snap.Now,
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := pub.PublishSystem(event); err != nil {
				logger.Warn("failed to publish shutdown event", zap.Error(err))
			} else {
				logger.Info("published shutdown event")
			}
			return nil

		case t := <-cmds:
			handleTrigger(ctrl, tracker, logger, t)

		case <-tick:
			ctrl.Loop()

			t := now()
			if t.Sub(lastStatus) < statusInterval {
				continue
			}
			lastStatus = t

			refreshStatus(ctrl, mqttStatus, tracker, t)
			for _, event := range tracker.DrainEvents() {
				logEvent(logger, event)
				if pub == nil {
					continue
				}
				if err := pub.Publish(event); err != nil {
					// Don't stop the controller on publish failure
					logger.Warn("publish error", zap.Error(err))
				}
			}

			if heartbeat > 0 && t.Sub(lastHeartbeat) >= heartbeat {
				lastHeartbeat = t
				snap := tracker.Snapshot()
				c := snap.Counts
				logger.Info("heartbeat",
					zap.Duration("uptime", t.Sub(startTime)),
					zap.Bool("ready", snap.Controller.Ready),
					zap.Int("triggers", c.Triggers),
					zap.Int("over_current", c.OverCurrent))

				if pub == nil {
					continue
				}
				hb := mqtt.SystemEvent{
					Timestamp:  t,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}
				if err := pub.PublishSystem(hb); err != nil {
					logger.Warn("heartbeat publish error", zap.Error(err))
				}
			}
		}
	}
}

func refreshStatus(ctrl *solenoid.Controller, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now time.Time) {
	tracker.Update(ctrl.Snapshot(), now)
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
}

func handleTrigger(ctrl *solenoid.Controller, tracker *status.Tracker, logger *zap.Logger, t mqtt.Trigger) {
	tracker.CountTrigger(t.Release())

	fields := []zap.Field{
		zap.Int("port", t.Port),
		zap.Float64("watts", t.Watts),
		zap.Float64("seconds", t.Seconds),
		zap.Bool("fade_in", t.FadeIn),
		zap.Bool("fade_out", t.FadeOut),
	}
	if !t.Release() && !ctrl.Ready() {
		logger.Warn("trigger ignored while calibrating", fields...)
		return
	}
	logger.Debug("trigger", fields...)
	ctrl.TriggerPort(t.Port, t.Watts, t.Seconds, t.FadeIn, t.FadeOut)
}

func logEvent(logger *zap.Logger, e status.Event) {
	fields := []zap.Field{zap.String("event", string(e.Type))}
	if e.Port >= 0 {
		fields = append(fields, zap.Int("port", e.Port), zap.Float64("resistance", e.Resistance))
	}

	switch e.Type {
	case status.EventOverCurrent:
		logger.Warn("over-current, all ports released", append(fields, zap.Float64("current", e.Current))...)
	case status.EventShortCircuit:
		logger.Warn("short circuit", fields...)
	default:
		logger.Info("event", fields...)
	}
}

// calibrate runs the controller until every port has been measured.
func calibrate(ctrl *solenoid.Controller, tick <-chan time.Time, deadline <-chan time.Time) error {
	for !ctrl.Ready() {
		select {
		case <-tick:
			ctrl.Loop()
		case <-deadline:
			return errCalibrationTimeout
		}
	}
	return nil
}

func printPorts(w io.Writer, s solenoid.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tCOIL\tRESISTANCE")
	for i, p := range s.Ports {
		r := "-"
		if p.Resistance >= 0 {
			r = fmt.Sprintf("%.1fΩ", p.Resistance)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i, p.Coil, r)
	}
	tw.Flush()
}
