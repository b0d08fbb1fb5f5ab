package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ericogr/airsense-mqtt/pkg/api"
	"github.com/ericogr/airsense-mqtt/pkg/engine"
)

const defaultAPIAddr = "localhost:9120"

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func statusColor(st engine.Status) string {
	switch st {
	case engine.StatusOk:
		return color.GreenString(st.String())
	case engine.StatusPartial, engine.StatusNoCompensationData:
		return color.YellowString(st.String())
	default:
		return color.RedString(st.String())
	}
}

func NewStatusCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show calibration state of a running daemon",
		Long:  "Query the HTTP API of a running airsense daemon and print the calibration state of every sensor.",
		RunE: func(c *cobra.Command, _ []string) error {
			list, err := api.NewClient(addr).Sensors()
			if err != nil {
				return err
			}
			printStatus(c.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAPIAddr, "daemon HTTP API address")
	return cmd
}

func NewCalibrateCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "calibrate <sensor>",
		Short: "Run a full calibration on a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			st, err := api.NewClient(addr).Calibrate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "%s: %s\n", bold("%s", args[0]), statusColor(st))
			if st == engine.StatusError || st == engine.StatusNotAllowed {
				return fmt.Errorf("calibration of %s failed: %s", args[0], st)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAPIAddr, "daemon HTTP API address")
	return cmd
}

func printStatus(w io.Writer, list []engine.Snapshot) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no sensors configured")
		return
	}
	for _, s := range list {
		cal := color.RedString("not calibrated")
		if s.Calibrated {
			cal = color.GreenString("calibrated")
		}
		fmt.Fprintf(w, "%s (%s, channel %d): %s\n", bold("%s", s.Name), s.Plugin, s.Channel, cal)
		fmt.Fprintf(w, "  calibration raw: %s\n", bold("%d", s.State.CalibrationRaw))
		fmt.Fprintf(w, "  zero offset:     %s\n", bold("%d", s.State.ZeroOffset))
		fmt.Fprintf(w, "  scale factor:    %s\n", bold("%d", s.State.ScaleFactor))
		fmt.Fprintf(w, "  auto:            %s\n", bold("%t", s.State.AutoCalibration))
	}
}
