// dripctl sends valve and mode commands to the gateway's gRPC command
// service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Parameshwar06/Drip/internal/services/dispatcher"
)

var (
	addr     string
	deviceID string
	timeout  time.Duration

	rootCmd = &cobra.Command{
		Use:   "dripctl",
		Short: "Drip irrigation command tool",
		Long:  "Writes commands into a device's command slot through the gateway's gRPC command service.",
	}

	valveCmd = &cobra.Command{
		Use:       "valve on|off",
		Short:     "Open or close the valve",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(func(ctx context.Context, c *dispatcher.Client) (*dispatcher.CommandReply, error) {
				return c.SetValve(ctx, &dispatcher.ValveRequest{DeviceID: deviceID, State: args[0]})
			})
		},
	}

	waterCmd = &cobra.Command{
		Use:   "water [minutes]",
		Short: "Water for a number of minutes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("minutes: %w", err)
			}
			return call(func(ctx context.Context, c *dispatcher.Client) (*dispatcher.CommandReply, error) {
				return c.QuickWater(ctx, &dispatcher.WaterRequest{DeviceID: deviceID, Minutes: minutes})
			})
		},
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Emergency stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(func(ctx context.Context, c *dispatcher.Client) (*dispatcher.CommandReply, error) {
				return c.EmergencyStop(ctx, &dispatcher.DeviceRequest{DeviceID: deviceID})
			})
		},
	}

	modeCmd = &cobra.Command{
		Use:       "mode automatic|manual",
		Short:     "Switch between automatic and manual watering",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"automatic", "manual"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(func(ctx context.Context, c *dispatcher.Client) (*dispatcher.CommandReply, error) {
				return c.SetMode(ctx, &dispatcher.ModeRequest{DeviceID: deviceID, Mode: args[0]})
			})
		},
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Send a connection test to the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(func(ctx context.Context, c *dispatcher.Client) (*dispatcher.CommandReply, error) {
				return c.Ping(ctx, &dispatcher.DeviceRequest{DeviceID: deviceID})
			})
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", envOr("GRPC_TARGET", "localhost:50051"), "Command service address")
	rootCmd.PersistentFlags().StringVarP(&deviceID, "device", "d", "", "Target device id (default: the gateway's selected device)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "RPC timeout")

	rootCmd.AddCommand(valveCmd, waterCmd, stopCmd, modeCmd, pingCmd)
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func call(fn func(context.Context, *dispatcher.Client) (*dispatcher.CommandReply, error)) error {
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reply, err := fn(ctx, dispatcher.NewClient(cc))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reply)
}
