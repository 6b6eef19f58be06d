package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/visitline/internal/api"
	"github.com/zulandar/visitline/internal/config"
	"github.com/zulandar/visitline/internal/models"
)

func newTokenCmd() *cobra.Command {
	var (
		configPath string
		employee   string
		role       string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for an employee",
		Long:  "Signs a JWT with the configured server secret. Intended for local development and service accounts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if employee == "" {
				return fmt.Errorf("--employee is required")
			}
			switch role {
			case models.RoleAdmin, models.RoleSupervisor, models.RolePromoter:
			default:
				return fmt.Errorf("--role %q is not one of admin, supervisor, promoter", role)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tok, err := api.NewToken(cfg.Server.JWTSecret, employee, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Visitline config file")
	cmd.Flags().StringVarP(&employee, "employee", "e", "", "employee id (token subject)")
	cmd.Flags().StringVar(&role, "role", models.RolePromoter, "role claim: admin, supervisor or promoter")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
