package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelpilot/modelpilot/internal/registry"
)

var (
	versionsName   string
	promoteVersion string
	promoteStage   string
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List registered model versions",
	RunE:  listVersions,
}

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Manually move a model version to a lifecycle stage",
	Long: `Sets the lifecycle stage of a registered version. Promotion is
monotonic: a version in Production cannot be demoted.`,
	RunE: promoteVersionCmd,
}

func init() {
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(promoteCmd)

	versionsCmd.Flags().StringVar(&versionsName, "name", "modelpilot", "registry model name")

	promoteCmd.Flags().StringVar(&promoteVersion, "version-id", "", "version to promote (required)")
	promoteCmd.Flags().StringVar(&promoteStage, "stage", string(registry.StageStaging), "target stage (Staging or Production)")
	promoteCmd.MarkFlagRequired("version-id")
}

func listVersions(cmd *cobra.Command, args []string) error {
	cfg, zl, err := setup()
	if err != nil {
		return err
	}
	defer zl.Sync()

	reg, err := registry.Open(cfg.Registry.Dialect, cfg.Registry.DSN, zl)
	if err != nil {
		return err
	}

	versions, err := reg.ListVersions(context.Background(), versionsName)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Printf("no versions registered under %q\n", versionsName)
		return nil
	}
	fmt.Printf("%-38s %-8s %-12s %-22s %s\n", "VERSION ID", "VERSION", "STAGE", "FAMILY", "CREATED")
	for _, v := range versions {
		fmt.Printf("%-38s %-8d %-12s %-22s %s\n",
			v.ID, v.Version, v.Stage, v.Family, v.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func promoteVersionCmd(cmd *cobra.Command, args []string) error {
	cfg, zl, err := setup()
	if err != nil {
		return err
	}
	defer zl.Sync()

	stage := registry.Stage(promoteStage)
	switch stage {
	case registry.StageStaging, registry.StageProduction:
	default:
		return fmt.Errorf("invalid stage %q", promoteStage)
	}

	reg, err := registry.Open(cfg.Registry.Dialect, cfg.Registry.DSN, zl)
	if err != nil {
		return err
	}
	if err := reg.SetStage(context.Background(), promoteVersion, stage); err != nil {
		return err
	}
	fmt.Printf("version %s moved to %s\n", promoteVersion, stage)
	return nil
}
