// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

var (
	buslistSubnet  int
	buslistPatches bool
	buslistMode    string
)

var buslistCmd = &cobra.Command{
	Use:   "buslist <list>",
	Short: "Show the command words of a bus list",
	Long: `Build a bus list from the device table and print each subnet buffer one
frame or instruction per line, with the replies owed per device.

Lists: ` + listNames(),
	Args: cobra.ExactArgs(1),
	RunE: runBuslist,
}

func init() {
	rootCmd.AddCommand(buslistCmd)
	buslistCmd.Flags().IntVarP(&buslistSubnet, "subnet", "s", 0, "Only show this subnet (1-5)")
	buslistCmd.Flags().BoolVar(&buslistPatches, "patches", false, "List the per-cycle patch table")
	buslistCmd.Flags().StringVar(&buslistMode, "mode", "enabled", "Mode encoded by change-mode")
}

func runBuslist(cmd *cobra.Command, args []string) error {
	kind, err := ilc.ParseListKind(args[0])
	if err != nil {
		return err
	}
	if buslistSubnet != 0 && (buslistSubnet < ilc.MinSubnet || buslistSubnet > ilc.MaxSubnet) {
		return fmt.Errorf("subnet %d out of range %d-%d", buslistSubnet, ilc.MinSubnet, ilc.MaxSubnet)
	}
	mode, err := parseMode(buslistMode)
	if err != nil {
		return err
	}

	dm, _, err := loadDeviceMap()
	if err != nil {
		return err
	}

	l := ilc.NewBusList(kind, ilc.DefaultCapacity)
	l.Build(dm, &ilc.Inputs{Mode: mode})

	for subnet := uint8(ilc.MinSubnet); subnet <= ilc.MaxSubnet; subnet++ {
		if buslistSubnet != 0 && int(subnet) != buslistSubnet {
			continue
		}
		fmt.Printf("=== %s, subnet %d ===\n", kind, subnet)
		fmt.Print(ilc.FormatCommandWords(l.Words(subnet)))
		fmt.Println()
	}

	if buslistPatches {
		fmt.Printf("=== Patches (%d) ===\n", len(l.Patches()))
		for _, p := range l.Patches() {
			if buslistSubnet != 0 && int(p.Subnet) != buslistSubnet {
				continue
			}
			fmt.Printf("  subnet %d word %4d: %s index %d (frame at %d, %d bytes)\n",
				p.Subnet, p.Offset, p.Kind, p.DataIndex, p.FrameStart, p.DataBytes)
		}
		fmt.Println()
	}

	expected := l.Expected()
	fmt.Printf("Replies owed: %d\n", expected.Total())
	for _, c := range ilc.Classes {
		for i, n := range expected.Class(c) {
			if n == 0 {
				continue
			}
			fmt.Printf("  %s: %d\n", dm.Device(c, i), n)
		}
	}
	return nil
}
