package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fclpkg/fclrecipe/pkg/config"
)

func (c *CLI) newInitCmd() *cobra.Command {
	var format string
	var legacy bool
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the built-in FCL recipe to a recipe file",
		Long: `Write the built-in FCL 0.6.0RC recipe to fclrecipe.yaml (or .json) in the
workspace root so it can be edited. --legacy writes the schema 1 form, which
declares only shared and fPIC and applies no source patches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(format, legacy, force)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "file format (yaml, json)")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "write the schema 1 recipe")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing recipe file")
	return cmd
}

func (c *CLI) runInit(format string, legacy, force bool) error {
	path := c.config.RecipeFile
	if path == "" {
		switch strings.ToLower(format) {
		case "yaml", "yml":
			path = filepath.Join(c.config.ProjectRoot, "fclrecipe.yaml")
		case "json":
			path = filepath.Join(c.config.ProjectRoot, "fclrecipe.json")
		default:
			return fmt.Errorf("unknown format: %s", format)
		}
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if existing := config.NewManager().FindRecipe(c.config.ProjectRoot); existing != "" && existing != path && !force {
		c.printWarning(fmt.Sprintf("%s takes precedence over %s", existing, path))
	}

	r := config.DefaultRecipe()
	if legacy {
		r.Descriptor = config.LegacyDescriptor()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := config.NewManager().WriteRecipe(path, r); err != nil {
		return err
	}

	c.printSuccess(fmt.Sprintf("Created %s (schema %d)", path, r.Descriptor.Schema))
	c.printInfo("Edit the recipe to change options, settings or patches")
	return nil
}
