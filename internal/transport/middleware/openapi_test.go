package middleware_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/expense-claims/api"
	"github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/transport"
	"github.com/frahmantamala/expense-claims/internal/transport/middleware"
)

var _ = Describe("OpenAPI", func() {
	var handler http.Handler

	BeforeEach(func() {
		doc, err := api.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		base := transport.NewBaseHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
		validate, err := middleware.OpenAPI(base, doc)
		Expect(err).NotTo(HaveOccurred())
		handler = validate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
	})

	serve := func(method, target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
		return rec
	}

	errorCode := func(rec *httptest.ResponseRecorder) string {
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body.Error.Code
	}

	It("passes requests that match the document", func() {
		Expect(serve(http.MethodGet, "/api/v1/expenses?status=approved&page=2&per_page=50").Code).To(Equal(http.StatusTeapot))
		Expect(serve(http.MethodGet, "/api/v1/expenses/12").Code).To(Equal(http.StatusTeapot))
	})

	It("rejects a query value outside the documented range", func() {
		rec := serve(http.MethodGet, "/api/v1/expenses?per_page=500")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(rec)).To(Equal(string(internal.ErrCodeValidationFailed)))
	})

	It("rejects an unknown status filter", func() {
		Expect(serve(http.MethodGet, "/api/v1/expenses?status=archived").Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects a non-numeric claim id", func() {
		Expect(serve(http.MethodGet, "/api/v1/expenses/abc").Code).To(Equal(http.StatusBadRequest))
	})

	It("leaves undocumented routes to the router", func() {
		Expect(serve(http.MethodGet, "/api/v1/unknown").Code).To(Equal(http.StatusTeapot))
		Expect(serve(http.MethodDelete, "/api/v1/expenses/12").Code).To(Equal(http.StatusTeapot))
	})
})
