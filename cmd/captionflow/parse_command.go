package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/MrWong99/captionflow/internal/parse"
	"github.com/MrWong99/captionflow/internal/reflow"
	"github.com/MrWong99/captionflow/pkg/caption"
)

// Output formats accepted by --output.
const (
	outputAuto  = "auto"
	outputTable = "table"
	outputJSON  = "json"
	outputVTT   = "vtt"
)

// parsedCaptions is the JSON form printed by the parse command.
type parsedCaptions struct {
	Format    caption.Format     `json:"format"`
	Family    string             `json:"family"`
	Fragments []caption.Fragment `json:"fragments"`
}

func newParseCommand(ctx *commandContext) *cobra.Command {
	var (
		wire     string
		language string
		noReflow bool
		output   string
	)

	cmd := &cobra.Command{
		Use:   "parse <file|->",
		Short: "Detect the caption format of a payload and print its fragments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			events, err := readEvents(cmd.InOrStdin(), args[0], wire)
			if err != nil {
				return err
			}

			tun := cfg.Tuning.Caption()
			res := parse.Parse(events, parse.Options{Language: language, Tuning: tun})
			frags := res.Fragments
			if !noReflow {
				frags = reflow.New(res.Family, reflow.WithTuning(tun)).Optimize(frags)
			}

			out := parsedCaptions{Format: res.Format, Family: res.Family.String(), Fragments: frags}
			return writeFragments(cmd.OutOrStdout(), output, out, false)
		},
	}
	cmd.Flags().StringVar(&wire, "wire", "", "Payload encoding: json3 or events (default: sniff)")
	cmd.Flags().StringVarP(&language, "lang", "l", "", "BCP-47 tag of the caption track")
	cmd.Flags().BoolVar(&noReflow, "raw", false, "Print parser output without line reflow")
	cmd.Flags().StringVarP(&output, "output", "o", outputAuto, "Output format: auto, table, json or vtt")
	return cmd
}

// readEvents reads and decodes a caption payload from path, or from stdin
// when path is "-".
func readEvents(stdin io.Reader, path, wire string) ([]caption.RawEvent, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	events, err := parse.Decode(parse.Wire(wire), data)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// writeFragments prints captions in the requested format. Auto selects a
// table on terminals and JSON otherwise.
func writeFragments(w io.Writer, output string, pc parsedCaptions, translated bool) error {
	if output == outputAuto || output == "" {
		output = outputJSON
		if isTerminal(w) {
			output = outputTable
		}
	}
	switch output {
	case outputJSON:
		return writeJSON(w, pc)
	case outputVTT:
		return caption.WriteVTT(w, pc.Fragments, translated)
	case outputTable:
		headers := []string{"#", "Start", "End", "Text"}
		aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}
		if translated {
			headers = append(headers, "Translation")
		}
		rows := make([][]string, 0, len(pc.Fragments))
		for i, f := range pc.Fragments {
			row := []string{strconv.Itoa(i + 1), caption.FormatTimestamp(f.StartMs), caption.FormatTimestamp(f.EndMs), f.Text}
			if translated {
				row = append(row, f.Translation)
			}
			rows = append(rows, row)
		}
		_, err := fmt.Fprintf(w, "format: %s  family: %s  fragments: %d\n%s\n",
			pc.Format, pc.Family, len(pc.Fragments), renderTable(headers, rows, aligns))
		return err
	}
	return fmt.Errorf("unknown output format %q", output)
}
