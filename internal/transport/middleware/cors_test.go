package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMiddleware(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Transport Middleware Suite")
}

var _ = Describe("CORS", func() {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	serve := func(allowedOrigins, origin, method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/v1/therapists", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		CORS(allowedOrigins)(okHandler).ServeHTTP(rec, req)
		return rec
	}

	Context("with a wildcard configuration", func() {
		It("allows any origin", func() {
			rec := serve("*", "https://anywhere.example", http.MethodGet)
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("treats an empty configuration as wildcard", func() {
			rec := serve("", "https://anywhere.example", http.MethodGet)
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Context("with an explicit origin list", func() {
		const allowed = "https://booking.example.com, https://staging.booking.example.com"

		It("echoes a listed origin and varies on it", func() {
			rec := serve(allowed, "https://booking.example.com", http.MethodGet)
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://booking.example.com"))
			Expect(rec.Header().Values("Vary")).To(ContainElement("Origin"))
		})

		It("sets no CORS headers for an unlisted origin", func() {
			rec := serve(allowed, "https://evil.example.com", http.MethodGet)
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("handles the second listed origin after trimming", func() {
			rec := serve(allowed, "https://staging.booking.example.com", http.MethodGet)
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://staging.booking.example.com"))
		})
	})

	It("short-circuits preflight requests", func() {
		rec := serve("https://booking.example.com", "https://booking.example.com", http.MethodOptions)
		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
	})
})
