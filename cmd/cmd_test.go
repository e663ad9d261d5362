package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/expense-claims/internal"
)

var _ = Describe("loadConfig", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	write := func(body string) {
		Expect(os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600)).To(Succeed())
	}

	It("reads the file and fills in defaults", func() {
		write(`
http_server:
  port: 9090
  allowed_origins: "http://localhost:3000, https://claims.example.com"
database:
  driver: sqlite
  source: "file::memory:"
policy:
  auto_approval_threshold: 500000
  max_expense_amount: 10000000
  min_description_len: 3
  max_description_len: 200
  max_backdate_months: 6
  currencies: [IDR]
  default_currency: IDR
`)
		cfg, err := loadConfig(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.Port).To(Equal(9090))
		Expect(cfg.Database.Driver).To(Equal("sqlite"))
		Expect(cfg.Policy.MaxBackdateMonths).To(Equal(6))
		Expect(cfg.Policy.AutoApprovalThreshold).To(Equal(500000.0))
		Expect(cfg.Receipts).To(Equal(internal.DefaultReceipts()))
		Expect(cfg.Security.BCryptCost).To(Equal(10))
		Expect(splitOrigins(cfg.Server.AllowedOrigins)).To(Equal([]string{"http://localhost:3000", "https://claims.example.com"}))
	})

	It("runs without a config file", func() {
		cfg, err := loadConfig(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Database.Driver).To(Equal("postgres"))
		Expect(cfg.Policy).To(Equal(internal.DefaultPolicy()))
	})

	It("reads limits for each extra currency", func() {
		write(`
policy:
  auto_approval_threshold: 1000000
  max_expense_amount: 50000000
  min_description_len: 5
  max_description_len: 500
  max_backdate_months: 12
  currencies: [IDR, USD]
  default_currency: IDR
  currency_limits:
    USD:
      auto_approval_threshold: 60
      max_expense_amount: 3000
`)
		cfg, err := loadConfig(dir)
		Expect(err).NotTo(HaveOccurred())
		limit, ok := cfg.Policy.LimitFor("USD")
		Expect(ok).To(BeTrue())
		Expect(limit.MaxExpenseAmount).To(Equal(3000.0))
	})

	It("rejects a currency without limits", func() {
		write(`
policy:
  auto_approval_threshold: 1000000
  max_expense_amount: 50000000
  min_description_len: 5
  max_description_len: 500
  max_backdate_months: 12
  currencies: [IDR, USD]
  default_currency: IDR
`)
		_, err := loadConfig(dir)
		Expect(err).To(MatchError(ContainSubstring("currency USD has no currency_limits entry")))
	})

	It("rejects an unknown database driver", func() {
		write("database:\n  driver: mysql\n")
		_, err := loadConfig(dir)
		Expect(err).To(MatchError(ContainSubstring("Driver")))
	})
})

var _ = Describe("seed", func() {
	var (
		dbPath string
		out    *bytes.Buffer
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "seed.db")
		cfg := &internal.Config{Database: internal.DatabaseConfig{Driver: "sqlite", Source: dbPath}}
		cfg.ApplyDefaults()
		cfg.Security.BCryptCost = 4
		appConfig = cfg

		out = &bytes.Buffer{}
		seedCmd.SetOut(out)
		seedCmd.SetContext(context.Background())
		clearData = false
		DeferCleanup(func() { appConfig = nil })
	})

	count := func(table string) int {
		db, err := sqlx.Connect("sqlite3", dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()
		var n int
		Expect(db.Get(&n, "SELECT COUNT(*) FROM "+table)).To(Succeed())
		return n
	}

	It("creates one user per role and the default categories", func() {
		Expect(seedCmd.RunE(seedCmd, nil)).To(Succeed())
		Expect(count("users")).To(Equal(len(seedUsers)))
		Expect(count("expense_categories")).To(Equal(len(seedCategories)))
		Expect(out.String()).To(ContainSubstring("Seeded admin user: padil@mail.com"))
	})

	It("can be rerun", func() {
		Expect(seedCmd.RunE(seedCmd, nil)).To(Succeed())
		out.Reset()
		Expect(seedCmd.RunE(seedCmd, nil)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("employee user already exists"))
		Expect(out.String()).NotTo(ContainSubstring("Seeded expense category"))
		Expect(count("expense_categories")).To(Equal(len(seedCategories)))
	})

	It("clears existing rows first when asked", func() {
		Expect(seedCmd.RunE(seedCmd, nil)).To(Succeed())
		clearData = true
		out.Reset()
		Expect(seedCmd.RunE(seedCmd, nil)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Cleared existing data"))
		Expect(count("users")).To(Equal(len(seedUsers)))
	})
})
