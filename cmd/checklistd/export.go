package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vbonduro/checklistsync/internal/checklist"
)

var (
	exportProperty string
	exportKind     string
	exportCompact  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print a checklist as JSON",
	Long:  `Loads one checklist from the database and prints the hydrated document, for report rendering.`,
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportProperty, "property", "", "property id")
	exportCmd.Flags().StringVar(&exportKind, "kind", string(checklist.KindInitial), "checklist kind (initial or final)")
	exportCmd.Flags().BoolVar(&exportCompact, "compact", false, "print without indentation")
	_ = exportCmd.MarkFlagRequired("property")
}

func runExport(cmd *cobra.Command, _ []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.cleanup()

	sess, err := a.service.Session(exportProperty, checklist.Kind(exportKind))
	if err != nil {
		return err
	}
	doc, err := sess.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load checklist: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if !exportCompact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(doc)
}
