package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stackguard/internal/config"
	"stackguard/internal/rpc"
)

// newCtlCommand returns the client commands that talk to a unit's security endpoint.
func newCtlCommand(v *viper.Viper) *cobra.Command {
	var (
		url     string
		version string
	)

	ctl := &cobra.Command{
		Use:   "ctl",
		Short: "Query or drive a unit over its HTTP endpoint",
	}
	ctl.PersistentFlags().StringVar(&url, "url", "http://127.0.0.1:8080", "unit base URL")
	ctl.PersistentFlags().StringVar(&version, "api-version", config.DefaultAPIVersion, "protocol version")
	ctl.PersistentFlags().Duration("timeout", config.DefaultRPCTimeout, "call timeout")
	mustBindFlag(v, config.KeyRPCTimeout, ctl.PersistentFlags().Lookup("timeout"))

	endpoint := func() *rpc.RemoteEndpoint {
		return rpc.NewRemoteEndpoint(url, version, v.GetDuration(config.KeyRPCTimeout))
	}

	ctl.AddCommand(&cobra.Command{
		Use:   "probe",
		Short: "Check that the unit answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := endpoint().Probe(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})

	ctl.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the armed state and the alarm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ep := endpoint()
			armed, err := ep.StatusGet(cmd.Context())
			if err != nil {
				return err
			}
			alarm, err := ep.AlarmGet(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]bool{"status": armed, "alarm": alarm})
		},
	})

	for _, armed := range []bool{true, false} {
		armed := armed
		use, short := "arm", "Arm the unit"
		if !armed {
			use, short = "disarm", "Disarm the unit"
		}
		ctl.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return endpoint().StatusSet(cmd.Context(), armed)
			},
		})
	}

	ctl.AddCommand(&cobra.Command{
		Use:   "alarm <on|off>",
		Short: "Raise or clear the alarm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			return endpoint().AlarmSet(cmd.Context(), active)
		},
	})

	ctl.AddCommand(&cobra.Command{
		Use:   "sensors",
		Short: "List the unit's sensors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sensors, err := endpoint().SensorsGet(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sensors)
		},
	})

	return ctl
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
	return b, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
