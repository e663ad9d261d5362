package category_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/frahmantamala/expense-claims/internal/category"
	categoryPostgres "github.com/frahmantamala/expense-claims/internal/category/postgres"
	categoryDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/category"
	"github.com/frahmantamala/expense-claims/internal/transport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var _ = Describe("Category Handler Integration", func() {
	var (
		db      *gorm.DB
		handler *category.Handler
	)

	BeforeEach(func() {
		var err error
		slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&categoryDatamodel.ExpenseCategory{})).To(Succeed())

		repo := categoryPostgres.NewCategoryRepository(db)
		ctx := context.Background()
		for _, cat := range []*category.Category{
			category.NewCategory("makan", "Meals and entertainment"),
			category.NewCategory("perjalanan", "Business travel"),
			category.NewCategory("inactive", "Inactive category"),
		} {
			Expect(repo.Create(ctx, category.ToDataModel(cat))).To(Succeed())
		}
		Expect(db.Model(&categoryDatamodel.ExpenseCategory{}).
			Where("name = ?", "inactive").
			Update("is_active", false).Error).To(Succeed())

		handler = category.NewHandler(&transport.BaseHandler{Logger: slogger}, category.NewService(repo, slogger))
	})

	It("should handle GET /categories request successfully", func() {
		req := httptest.NewRequest(http.MethodGet, "/categories", nil)
		w := httptest.NewRecorder()

		handler.GetCategories(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Header().Get("Content-Type")).To(ContainSubstring("application/json"))

		var response category.CategoriesResponse
		Expect(json.NewDecoder(w.Body).Decode(&response)).To(Succeed())
		Expect(category.Names(response.ToCategories())).To(Equal([]string{"makan", "perjalanan"}))
	})

	It("should return the error envelope when the store fails", func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())

		req := httptest.NewRequest(http.MethodGet, "/categories", nil)
		w := httptest.NewRecorder()

		handler.GetCategories(w, req)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(ContainSubstring(`"code":"INTERNAL_ERROR"`))
	})
})
