package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"serene.dev/tdmesh/internal/config"
	"serene.dev/tdmesh/internal/mesh"
)

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Print the slot table",
	Long: `Print the slot table built from mesh.slots as YAML, ordered by slot.
The reserved vibration slot is listed last.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSlots(configFile, cmd.OutOrStdout())
	},
}

type slotsView struct {
	Slots         []mesh.Assignment `yaml:"slots"`
	ReservedSlot  mesh.Slot         `yaml:"reserved_slot"`
	Free          []mesh.Slot       `yaml:"free"`
	VibrationMode string            `yaml:"vibration_policy"`
}

func runSlots(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	table, err := cfg.SlotTable()
	if err != nil {
		return err
	}

	view := slotsView{
		Slots:         table.Senders(),
		ReservedSlot:  mesh.ReservedSlot,
		Free:          []mesh.Slot{},
		VibrationMode: cfg.Engine().VibrationPolicy.String(),
	}
	used := make(map[mesh.Slot]bool, len(view.Slots))
	for _, a := range view.Slots {
		used[a.Slot] = true
	}
	for s := mesh.Slot(0); s < mesh.ReservedSlot; s++ {
		if !used[s] {
			view.Free = append(view.Free, s)
		}
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("encode slot table: %w", err)
	}
	return enc.Close()
}
