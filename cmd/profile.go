package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/chaos"
	"github.com/xkilldash9x/spicy-cat/internal/config"
	"github.com/xkilldash9x/spicy-cat/internal/enforce"
	"github.com/xkilldash9x/spicy-cat/internal/profile"
)

type profilePreview struct {
	Profile     schemas.FingerprintProfile `json:"profile"`
	Enforcement schemas.EnforcementRequest `json:"enforcement"`
}

func newProfileCmd() *cobra.Command {
	var (
		seed   uint64
		phrase string
		count  int
	)

	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Preview the profiles a seed produces, without applying them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			cfg := config.Get()

			tables := profile.DefaultTables()
			if len(cfg.Profile.PlatformWeights) > 0 {
				var err error
				if tables, err = tables.WithPlatformWeights(cfg.Profile.PlatformWeights); err != nil {
					return err
				}
			}
			gen, err := profile.NewGenerator(tables)
			if err != nil {
				return err
			}

			switch {
			case phrase != "":
				seed = chaos.SeedFromString(phrase)
			case seed == 0:
				seed = chaos.RandomSeed()
			}
			previews, err := previewProfiles(gen, seed, count, cfg.Enforcement.BlockLeakPorts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Seed     uint64           `json:"seed"`
				Profiles []profilePreview `json:"profiles"`
			}{seed, previews})
		},
	}

	profileCmd.Flags().Uint64Var(&seed, "seed", 0, "engine seed (0 picks a random one)")
	profileCmd.Flags().StringVar(&phrase, "phrase", "", "derive the seed from a phrase")
	profileCmd.Flags().IntVarP(&count, "count", "n", 1, "number of consecutive profiles to show")
	return profileCmd
}

// previewProfiles draws count consecutive profiles from one engine, exactly as
// successive rotations would.
func previewProfiles(gen *profile.Generator, seed uint64, count int, blockLeakPorts bool) ([]profilePreview, error) {
	e := chaos.New(seed)
	out := make([]profilePreview, 0, count)
	for i := 0; i < count; i++ {
		p, err := gen.Generate(e)
		if err != nil {
			return nil, err
		}
		out = append(out, profilePreview{Profile: p, Enforcement: enforce.RequestFor(p, blockLeakPorts)})
	}
	return out, nil
}
