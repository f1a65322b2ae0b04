package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/uvtwin/telemetry-sim/internal/model"
	"github.com/uvtwin/telemetry-sim/internal/publish/mqtt"
)

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print live telemetry events from the MQTT broker",
		RunE:  runTail,
	}
	cmd.Flags().String("mqtt", "", "MQTT broker host:port (default from profile)")
	cmd.Flags().String("topic", "", "MQTT topic (default from profile)")
	cmd.Flags().Bool("raw", false, "Print the JSON payloads unchanged")
	return cmd
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	var o config.Overrides
	o.MQTTEndpoint, _ = cmd.Flags().GetString("mqtt")
	o.MQTTTopic, _ = cmd.Flags().GetString("topic")
	if err := cfg.Apply(o); err != nil {
		return err
	}
	// a distinct client id keeps the broker from kicking a running simulator
	cfg.MQTT.ClientID += "-tail"

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := mqtt.Dial(cfg.MQTT)
	if err != nil {
		return err
	}
	defer client.Close()

	raw, _ := cmd.Flags().GetBool("raw")
	w := cmd.OutOrStdout()
	fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s %s\n", cfg.MQTT.Endpoint(), client.Topic())

	return client.Subscribe(ctx, func(payload []byte) {
		if raw {
			fmt.Fprintln(w, string(payload))
			return
		}
		ev, err := model.ParseEvent(payload)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "bad event: %v\n", err)
			return
		}
		printEvent(w, ev)
	})
}

func printEvent(w io.Writer, ev model.Event) {
	line := fmt.Sprintf("%s %s lap=%d tick=%d speed=%.1f soc=%.1f brake=%.1f risk=%.2f",
		ev.TS.Format("15:04:05.000"), ev.Vehicle.Model, ev.Lap, ev.Tick,
		ev.Dynamics.SpeedKph, ev.Battery.SOCPct, ev.Temperatures.BrakeC, ev.Risk.Score)
	if len(ev.Risk.Reasons) > 0 {
		line += " [" + strings.Join(ev.Risk.Reasons, model.ReasonSeparator) + "]"
	}
	if ev.Risk.Failure != "" {
		line += " FAILURE=" + ev.Risk.Failure
	}
	fmt.Fprintln(w, line)
}
