// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

var decodeFrames bool

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Parse a dump of subnet response words",
	Long: `Parse response FIFO words captured from a subnet and report frames,
framing faults and device warnings.

Each line holds the subnet number, a colon, then hexadecimal words (without
the leading word count):

  # subnet 1: timestamp, address 10, function 18, ..., end of frame
  1: B012 B034 B000 B000 B000 B000 B000 B000 0214 0224 ... A000

Lines starting with '#' are ignored. Without a file, stdin is read. The
device table is taken from --config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVar(&decodeFrames, "frames", false, "List every frame of each line")
}

// dumpLine is one subnet read of a word dump
type dumpLine struct {
	subnet uint8
	words  []uint16
}

// parseDumpLine parses "subnet: word word ...". ok is false for blank and
// comment lines.
func parseDumpLine(line string) (d dumpLine, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return d, false, nil
	}

	head, rest, found := strings.Cut(line, ":")
	if !found {
		return d, false, fmt.Errorf("missing subnet prefix")
	}
	head = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(head), "subnet"))
	subnet, err := strconv.ParseUint(head, 10, 8)
	if err != nil {
		return d, false, fmt.Errorf("invalid subnet %q", head)
	}
	d.subnet = uint8(subnet)

	for _, field := range strings.Fields(rest) {
		w, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(field), "0x"), 16, 16)
		if err != nil {
			return d, false, fmt.Errorf("invalid word %q", field)
		}
		d.words = append(d.words, uint16(w))
	}
	return d, true, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	dm, _, err := loadDeviceMap()
	if err != nil {
		return err
	}

	stats := ilc.NewStatistics()
	parser := ilc.NewResponseParser(dm, ilc.NewTelemetry(dm))
	parser.SetLogger(newLogger(os.Stderr))
	parser.SetStatistics(stats)

	return decodeDump(in, os.Stdout, parser, stats)
}

// decodeDump parses every line of in and writes the results to out
func decodeDump(in io.Reader, out io.Writer, parser *ilc.ResponseParser, stats *ilc.Statistics) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		d, ok, err := parseDumpLine(scanner.Text())
		if err != nil {
			fmt.Fprintf(out, "line %d: %v\n", lineNo, err)
			continue
		}
		if !ok {
			continue
		}

		if decodeFrames {
			fmt.Fprintf(out, "line %d:\n", lineNo)
			fmt.Fprint(out, ilc.FormatResponseWords(d.words))
		}
		r := parser.Parse(d.subnet, d.words)
		fmt.Fprintf(out, "line %d %s", lineNo, ilc.FormatParseResult(&r))
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, stats.String())
	return nil
}
