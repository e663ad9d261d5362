package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/expense-claims/internal/payment"
)

var _ = Describe("HTTPGateway", func() {
	var (
		server   *httptest.Server
		received map[string]interface{}
		headers  http.Header
		path     string
		reply    func(w http.ResponseWriter)
	)

	BeforeEach(func() {
		received = nil
		reply = func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"data":{"id":"pay_1","external_id":"claim-9","status":"success"}}`))
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			headers = r.Header.Clone()
			_ = json.NewDecoder(r.Body).Decode(&received)
			reply(w)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	request := payment.Request{ExternalID: "claim-9", Amount: decimal.NewFromInt(1500000), Currency: "IDR", Description: "Expense claim 9"}

	It("sends the payment and maps success to paid", func() {
		gw := payment.NewHTTPGateway(server.URL, "secret", time.Second, quietLogger)

		res, err := gw.Pay(context.Background(), request)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(payment.StatusPaid))
		Expect(res.GatewayID).To(Equal("pay_1"))
		Expect(path).To(Equal("/payments"))
		Expect(received).To(HaveKeyWithValue("external_id", "claim-9"))
		Expect(received).To(HaveKeyWithValue("currency", "IDR"))
		Expect(headers.Get("X-API-Key")).To(Equal("secret"))
		Expect(headers.Get("Idempotency-Key")).To(Equal("claim-9"))
	})

	It("maps a declined payment to failed with its reason", func() {
		reply = func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"data":{"id":"pay_2","status":"failed","failure_reason":"card declined"}}`))
		}
		gw := payment.NewHTTPGateway(server.URL, "", time.Second, quietLogger)

		res, err := gw.Pay(context.Background(), request)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(payment.StatusFailed))
		Expect(res.FailureReason).To(Equal("card declined"))
	})

	It("returns an error on a non-2xx response", func() {
		reply = func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusBadGateway)
		}
		gw := payment.NewHTTPGateway(server.URL, "", time.Second, quietLogger)

		_, err := gw.Pay(context.Background(), request)

		Expect(err).To(MatchError(ContainSubstring("status 502")))
	})
})

var _ = Describe("SimulatedGateway", func() {
	It("always pays when the failure rate is zero", func() {
		gw := payment.NewSimulatedGateway(0, 0)
		res, err := gw.Pay(context.Background(), payment.Request{ExternalID: "claim-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(payment.StatusPaid))
	})

	It("always fails when the failure rate is one", func() {
		gw := payment.NewSimulatedGateway(1, 0)
		res, err := gw.Pay(context.Background(), payment.Request{ExternalID: "claim-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(payment.StatusFailed))
		Expect(res.FailureReason).NotTo(BeEmpty())
	})

	It("stops waiting when the context is cancelled", func() {
		gw := payment.NewSimulatedGateway(0, time.Hour)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := gw.Pay(ctx, payment.Request{ExternalID: "claim-1"})
		Expect(err).To(MatchError(context.Canceled))
	})
})
