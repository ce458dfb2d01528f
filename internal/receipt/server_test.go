package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-ocr/internal/scanning"
)

var anyPath = regexp.MustCompile(`.*`)

// multipartUpload builds a multipart body with a single file part
func multipartUpload(field, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(h)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(content)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
}

var _ = Describe("Server", func() {
	var (
		detector    *mockDetector
		storage     *mockStorage
		cfg         ServerConfig
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		detector = newMockDetector(sampleText)
		storage = newMockStorage()
		cfg = ServerConfig{}
	})

	JustBeforeEach(func() {
		service := NewService(detector, storage, &mockPreparer{}, Options{Provider: "mock"})
		server = NewServerWithMux(service, cfg, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, anyPath, server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	upload := func(body io.Reader, contentType string) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+"/upload", contentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("handleRoot", func() {
		When("request method is GET", func() {
			It("should report the API is running", func() {
				resp, err := http.Get(ghttpServer.URL() + "/")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("Receipt OCR API is running"))
			})

			It("should set CORS and request ID headers", func() {
				resp, err := http.Get(ghttpServer.URL() + "/")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
				Expect(resp.Header.Get("X-Request-Id")).NotTo(BeEmpty())
			})
		})

		When("request method is not GET", func() {
			It("should return status Method Not Allowed", func() {
				resp, err := http.Post(ghttpServer.URL()+"/", "text/plain", nil)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
			})
		})

		When("the path is unknown", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/nope")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("CORS preflight", func() {
		It("should answer OPTIONS with No Content", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/upload", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})

	Describe("handleUpload", func() {
		When("upload succeeds", func() {
			var resp *http.Response

			JustBeforeEach(func() {
				resp = upload(multipartUpload("receipt", "receipt.jpg", "image/jpeg", []byte("fake jpeg")))
			})

			It("should return status OK", func() {
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			})

			It("should return the receipt and raw text", func() {
				var body map[string]any
				decodeBody(resp, &body)
				Expect(body).To(HaveKeyWithValue("success", true))
				Expect(body).To(HaveKeyWithValue("raw_ocr_text", sampleText))
				Expect(body).To(HaveKeyWithValue("detections_found", BeNumerically("==", 42)))
				Expect(body).NotTo(HaveKey("confidence"))
				Expect(body["receipt"]).To(HaveKeyWithValue("storeName", "ACME GROCERY"))
				Expect(body["receipt"]).To(HaveKeyWithValue("total", 8.10))
				Expect(body["receipt"]).To(HaveKeyWithValue("paymentMethod", "DEBIT"))
			})

			It("should not leave the upload spooled", func() {
				resp.Body.Close()
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("the provider reports a confidence", func() {
			BeforeEach(func() {
				confidence := 0.9
				detector.result.Confidence = &confidence
			})

			It("should include it", func() {
				var body map[string]any
				decodeBody(upload(multipartUpload("receipt", "receipt.jpg", "image/jpeg", []byte("img"))), &body)
				Expect(body).To(HaveKeyWithValue("confidence", 0.9))
			})
		})

		When("the part has no content type", func() {
			It("should use the file extension", func() {
				resp := upload(multipartUpload("receipt", "scan.PNG", "application/octet-stream", []byte("img")))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})

			It("should sniff the content when there is no extension", func() {
				png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)
				resp := upload(multipartUpload("receipt", "upload", "", png))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("the file is not a supported image type", func() {
			It("should return Unsupported Media Type", func() {
				var body errorResponse
				resp := upload(multipartUpload("receipt", "notes.txt", "text/plain", []byte("hello")))
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
				decodeBody(resp, &body)
				Expect(body.Error).To(Equal("Unsupported file type"))
				Expect(detector.calls).To(BeZero())
			})
		})

		When("the file is a GIF", func() {
			It("should return Unsupported Media Type", func() {
				var body errorResponse
				resp := upload(multipartUpload("receipt", "anim.gif", "image/gif", []byte("GIF89a")))
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
				decodeBody(resp, &body)
				Expect(body.Error).To(Equal("Unsupported file type"))
			})
		})

		When("no receipt field is provided", func() {
			It("should return Bad Request", func() {
				var body errorResponse
				resp := upload(multipartUpload("file", "receipt.jpg", "image/jpeg", []byte("img")))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				decodeBody(resp, &body)
				Expect(body.Error).To(Equal("No file uploaded"))
			})
		})

		When("the body is not multipart", func() {
			It("should return Bad Request", func() {
				var body errorResponse
				resp := upload(strings.NewReader(`{"receipt":"x"}`), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				decodeBody(resp, &body)
				Expect(body.Error).To(Equal("No file uploaded"))
			})
		})

		When("the upload is larger than the limit", func() {
			BeforeEach(func() {
				cfg.MaxUploadBytes = 1024
			})

			It("should return Request Entity Too Large", func() {
				var body errorResponse
				resp := upload(multipartUpload("receipt", "big.jpg", "image/jpeg", bytes.Repeat([]byte("x"), 4096)))
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				decodeBody(resp, &body)
				Expect(body.Error).To(Equal("File is too large"))
			})
		})

		When("OCR fails", func() {
			BeforeEach(func() {
				detector.err = fmt.Errorf("%w: vision: quota exceeded", scanning.ErrOCRService)
			})

			It("should return Internal Server Error with details", func() {
				var body errorResponse
				resp := upload(multipartUpload("receipt", "receipt.jpg", "image/jpeg", []byte("img")))
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				decodeBody(resp, &body)
				Expect(body.Error).To(Equal("OCR processing failed"))
				Expect(body.Details).To(ContainSubstring("quota exceeded"))
				Expect(storage.files).To(BeEmpty())
			})
		})
	})

	Describe("handleExtract", func() {
		post := func(body string) *http.Response {
			resp, err := http.Post(ghttpServer.URL()+"/extract", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("the body carries text", func() {
			It("should return the extracted receipt", func() {
				var body map[string]any
				resp := post(`{"text":"CORNER SHOP\nSUBTOTAL 3.00\nTOTAL 3.15\nVISA CREDIT"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				decodeBody(resp, &body)
				Expect(body).To(HaveKeyWithValue("success", true))
				Expect(body["receipt"]).To(HaveKeyWithValue("subtotal", 3.0))
				Expect(body["receipt"]).To(HaveKeyWithValue("total", 3.15))
				Expect(body["receipt"]).To(HaveKeyWithValue("paymentMethod", "CREDIT"))
				Expect(detector.calls).To(BeZero())
			})
		})

		When("the text is empty", func() {
			It("should return an empty item list rather than null", func() {
				resp := post(`{"text":""}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				raw, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(raw)).To(ContainSubstring(`"items":[]`))
				Expect(string(raw)).NotTo(ContainSubstring(`"total"`))
			})
		})

		DescribeTable("rejects invalid bodies",
			func(body string) {
				var resp errorResponse
				r := post(body)
				Expect(r.StatusCode).To(Equal(http.StatusBadRequest))
				decodeBody(r, &resp)
				Expect(resp.Error).To(Equal("Invalid request body"))
			},
			Entry("malformed JSON", `{"text":`),
			Entry("missing text", `{"body":"TOTAL 1.00"}`),
			Entry("wrong type", `{"text":42}`),
		)
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			cfg.BasicAuth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should reject uploads without credentials", func() {
			resp := upload(multipartUpload("receipt", "receipt.jpg", "image/jpeg", []byte("img")))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should accept uploads with the right credentials", func() {
			body, contentType := multipartUpload("receipt", "receipt.jpg", "image/jpeg", []byte("img"))
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/upload", body)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", contentType)
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should reject the wrong password", func() {
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/extract", strings.NewReader(`{"text":"x"}`))
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should leave the liveness check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})

var _ = Describe("isBodyTooLarge", func() {
	It("should recognize a wrapped MaxBytesError", func() {
		err := fmt.Errorf("multipart: NextPart: %w", &http.MaxBytesError{Limit: 1024})
		Expect(isBodyTooLarge(err)).To(BeTrue())
	})

	It("should not match on the message alone", func() {
		Expect(isBodyTooLarge(errors.New("http: request body too large"))).To(BeFalse())
	})
})
