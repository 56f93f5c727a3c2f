package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fclpkg/fclrecipe/pkg/publish"
	"github.com/fclpkg/fclrecipe/pkg/utils"
)

func (c *CLI) newPublishCmd() *cobra.Command {
	var (
		layoutDir   string
		tag         string
		plainHTTP   bool
		insecureTLS bool
		created     string
	)

	cmd := &cobra.Command{
		Use:   "publish [registry/repository[:tag]]",
		Short: "Push the package folder as an OCI artifact",
		Long: `Push the package folder to an OCI registry, or into a local OCI image
layout with --oci-layout. The tag defaults to the recipe version.

Registry credentials are read from the Docker credential store.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && layoutDir == "" {
				return fmt.Errorf("a registry target or --oci-layout is required")
			}

			s, err := c.newSession()
			if err != nil {
				return err
			}
			info := s.controller.Info()
			if len(info.Libs) == 0 {
				c.printWarning("The package folder has no libraries; did the package stage run?")
			}

			opts := publish.Options{
				PackageDir:  s.layout.PackageDir(),
				Info:        info,
				PlainHTTP:   plainHTTP,
				InsecureTLS: insecureTLS,
				Created:     created,
			}

			var result *publish.Result
			if layoutDir != "" {
				result, err = publish.PushToLayout(cmd.Context(), opts, layoutDir, tag)
			} else {
				opts.Target = args[0]
				result, err = publish.Push(cmd.Context(), opts)
			}
			if err != nil {
				return err
			}

			if size, err := utils.DirectorySize(opts.PackageDir); err == nil {
				c.printSuccess(fmt.Sprintf("Published %s (%s uncompressed)", result.Reference, utils.FormatBytes(size)))
			} else {
				c.printSuccess(fmt.Sprintf("Published %s", result.Reference))
			}
			fmt.Fprintln(c.output, result.Digest)
			return nil
		},
	}

	cmd.Flags().StringVar(&layoutDir, "oci-layout", "", "write into this OCI image layout directory instead of a registry")
	cmd.Flags().StringVar(&tag, "tag", "", "tag for --oci-layout (default: the recipe version)")
	cmd.Flags().BoolVar(&plainHTTP, "plain-http", false, "use HTTP instead of HTTPS")
	cmd.Flags().BoolVar(&insecureTLS, "insecure-tls", false, "skip TLS certificate verification")
	cmd.Flags().StringVar(&created, "created", "", "RFC 3339 creation time to record, for reproducible digests")
	return cmd
}
