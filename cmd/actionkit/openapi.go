package main

import (
	"github.com/spf13/cobra"
)

func newOpenAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document of the HTTP surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			// Describing the routes needs neither the database nor redis.
			cfg.RateLimit.Requests = 0
			cfg.Tracing.Exporter = "none"

			a, err := newApp(cmd.Context(), cfg, appOptions{logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			doc, err := a.httpRouter().MarshalOpenAPI()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(doc, '\n'))
			return err
		},
	}
}
