package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/frahmantamala/expense-claims/internal/auth"
	"github.com/frahmantamala/expense-claims/internal/user"
	userPostgres "github.com/frahmantamala/expense-claims/internal/user/postgres"
	"github.com/frahmantamala/expense-claims/pkg/logger"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

const seedPassword = "password"

var seedUsers = []user.RegisterDTO{
	{Email: "fadhil@mail.com", Name: "Fadhil", Password: seedPassword, Role: auth.RoleEmployee},
	{Email: "manager@mail.com", Name: "Maya Manager", Password: seedPassword, Role: auth.RoleManager},
	{Email: "padil@mail.com", Name: "Padil Admin", Password: seedPassword, Role: auth.RoleAdmin},
}

var seedCategories = []struct {
	Name string
	Desc string
}{
	{"perjalanan", "perjalanan dinas dan transportasi"},
	{"makan", "makan dan hiburan"},
	{"kantor", "perlengkapan, peralatan kantor"},
	{"liburan", "biaya liburan dan rekreasi"},
	{"lain_lain", "biaya lain-lain"},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with one user per role and the default expense categories.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := appConfig

		db, err := initDB(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		defer db.Close()
		gdb, err := openGorm(cfg.Database, db)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if clearData {
			if err := clearSeedData(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(out, "Cleared existing data")
		}

		users := user.NewService(userPostgres.NewUserRepository(gdb), cfg.Security.BCryptCost, logger.LoggerWrapper())
		for _, u := range seedUsers {
			_, err := users.Register(ctx, u)
			switch {
			case errors.Is(err, user.ErrEmailExists):
				fmt.Fprintf(out, "%s user already exists: %s\n", u.Role, u.Email)
			case err != nil:
				return fmt.Errorf("failed to seed user %s: %w", u.Email, err)
			default:
				fmt.Fprintf(out, "Seeded %s user: %s\n", u.Role, u.Email)
			}
		}

		insert := db.Rebind(`INSERT INTO expense_categories (name, description, is_active, created_at, updated_at)
			VALUES (?, ?, true, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP) ON CONFLICT (name) DO NOTHING`)
		for _, c := range seedCategories {
			res, err := db.ExecContext(ctx, insert, c.Name, c.Desc)
			if err != nil {
				return fmt.Errorf("failed to insert expense category %s: %w", c.Name, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				fmt.Fprintf(out, "Seeded expense category: %s\n", c.Name)
			}
		}

		fmt.Fprintln(out, "Expense categories seeded successfully")
		return nil
	},
}

// clearSeedData empties tables child-first so foreign keys hold.
func clearSeedData(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"payments", "expenses", "expense_categories", "users"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
