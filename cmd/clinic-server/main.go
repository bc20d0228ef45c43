package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/calendar"
	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/telemetry"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic calendar and appointment API server",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotEnv()
		},
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(userCmd())
	root.AddCommand(calendarCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withPool loads config, connects and runs fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, m *db.Migrator, svcs *services) error, migrationsDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	svcs, err := newServices(cfg, newLogger(cfg), pool, telemetry.NewMetrics())
	if err != nil {
		return err
	}
	return fn(ctx, cfg, db.NewMigrator(pool, migrationsDir), svcs)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			target, _ := cmd.Flags().GetInt("to")

			return withPool(func(ctx context.Context, _ *config.Config, m *db.Migrator, _ *services) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.UpTo(ctx, schema, target)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			}, dir)
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies all)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			return withPool(func(ctx context.Context, _ *config.Config, m *db.Migrator, _ *services) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
				return nil
			}, dir)
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate down is not supported by the forward-only runner.
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("migrate down is not supported: write a new forward migration instead")
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage clinic users",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := identity.CreateUserRequest{}
			req.Email, _ = cmd.Flags().GetString("email")
			req.Name, _ = cmd.Flags().GetString("name")
			req.Role, _ = cmd.Flags().GetString("role")
			req.Password, _ = cmd.Flags().GetString("password")
			if dept, _ := cmd.Flags().GetString("department"); dept != "" {
				req.Department = &dept
			}
			if spec, _ := cmd.Flags().GetString("specialization"); spec != "" {
				req.Specialization = &spec
			}

			return withPool(func(ctx context.Context, _ *config.Config, _ *db.Migrator, svcs *services) error {
				u, err := svcs.identity.CreateUser(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", u.Role, u.ID, u.Email)
				return nil
			}, "")
		},
	}
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("role", "", "admin, receptionist, nurse, doctor, patient or pharmacist")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("department", "", "Department (optional)")
	createCmd.Flags().String("specialization", "", "Specialization for doctors (optional)")
	for _, f := range []string{"email", "name", "role", "password"} {
		_ = createCmd.MarkFlagRequired(f)
	}

	cmd.AddCommand(createCmd)
	return cmd
}

func calendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Inspect the appointment calendar",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the day or week grid as a user sees it",
		RunE: func(cmd *cobra.Command, args []string) error {
			dateStr, _ := cmd.Flags().GetString("date")
			viewStr, _ := cmd.Flags().GetString("view")
			doctor, _ := cmd.Flags().GetString("doctor")
			as, _ := cmd.Flags().GetString("as")

			mode, err := calendar.ParseViewMode(viewStr)
			if err != nil {
				return err
			}

			return withPool(func(ctx context.Context, _ *config.Config, _ *db.Migrator, svcs *services) error {
				viewer, err := svcs.identity.GetUser(ctx, as)
				if err != nil {
					return fmt.Errorf("user %q: %w", as, err)
				}
				ref, err := parseDate(dateStr, svcs.calendar.Location())
				if err != nil {
					return err
				}
				v, err := svcs.calendar.View(ctx, calendar.ViewRequest{
					Viewer:       scheduling.Actor{UserID: viewer.ID.String(), Role: viewer.Role},
					Reference:    ref,
					Mode:         mode,
					DoctorFilter: doctor,
				})
				if err != nil {
					return err
				}
				return calendar.Render(cmd.OutOrStdout(), v)
			}, "")
		},
	}
	showCmd.Flags().String("date", "", "Reference date YYYY-MM-DD (default today)")
	showCmd.Flags().String("view", "week", "day or week")
	showCmd.Flags().String("doctor", calendar.AllDoctors, "Doctor id or \"all\"")
	showCmd.Flags().String("as", "", "User id whose view to render")
	_ = showCmd.MarkFlagRequired("as")

	cmd.AddCommand(showCmd)
	return cmd
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(scheduling.DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}
