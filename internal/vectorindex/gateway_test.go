package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/AbdulMuqeet05/ReceiptManager/internal/catalog"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/embedding"
)

// mockEmbedder is a mock implementation of embedding.Embedder
type mockEmbedder struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
	vector  []float32
}

func newMockEmbedder() *mockEmbedder {
	vector := make([]float32, embedding.Dimension)
	vector[0] = 1
	return &mockEmbedder{failFor: make(map[string]error), vector: vector}
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, text)
	if err, ok := m.failFor[text]; ok {
		return nil, err
	}
	return m.vector, nil
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ = Describe("Gateway", func() {
	var (
		server   *ghttp.Server
		embedder *mockEmbedder
		gateway  *Gateway
		ctx      context.Context
		err      error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		embedder = newMockEmbedder()
		gateway = NewGateway(Config{URL: server.URL()}, embedder)
		ctx = context.Background()
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("EnsureCollection", func() {
		When("the collection is missing", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("GET", "/collections/products"),
						ghttp.RespondWith(http.StatusNotFound, `{"status":{"error":"not found"}}`),
					),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("PUT", "/collections/products"),
						ghttp.VerifyJSONRepresenting(map[string]any{
							"vectors": map[string]any{"size": 1024, "distance": "Cosine"},
						}),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": true}),
					),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("PUT", "/collections/products/index"),
						ghttp.VerifyJSONRepresenting(map[string]any{
							"field_name": "full_name", "field_schema": "text",
						}),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": true}),
					),
				)
				err = gateway.EnsureCollection(ctx, false)
			})

			It("creates the collection and the payload index", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(server.ReceivedRequests()).To(HaveLen(3))
			})
		})

		When("the collection exists and forceRecreate is set", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("GET", "/collections/products"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": map[string]any{}}),
					),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("DELETE", "/collections/products"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": true}),
					),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("PUT", "/collections/products"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": true}),
					),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("PUT", "/collections/products/index"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": true}),
					),
				)
				err = gateway.EnsureCollection(ctx, true)
			})

			It("drops and recreates the collection", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(server.ReceivedRequests()).To(HaveLen(4))
			})
		})

		When("the collection exists and forceRecreate is not set", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("GET", "/collections/products"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": map[string]any{}}),
					),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("PUT", "/collections/products/index"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": true}),
					),
				)
				err = gateway.EnsureCollection(ctx, false)
			})

			It("leaves the collection untouched", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(server.ReceivedRequests()).To(HaveLen(2))
			})
		})
	})

	Describe("UpsertBatch", func() {
		var products []catalog.Product

		BeforeEach(func() {
			products = []catalog.Product{
				{Category: "Molkerei", Title: "BIO H-MILCH 3,8%", Price: 1.249, ExternalID: "40012"},
				{Category: "Suesswaren", Title: "SCHOKOTROEPFCHEN", Price: 1.99, ExternalID: "40013"},
			}
		})

		When("every embedding succeeds", func() {
			var upserted struct {
				Points []point `json:"points"`
			}

			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("PUT", "/collections/products/points", "wait=true"),
						func(w http.ResponseWriter, r *http.Request) {
							Expect(json.NewDecoder(r.Body).Decode(&upserted)).To(Succeed())
						},
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": map[string]any{"status": "completed"}}),
					),
				)
				err = gateway.UpsertBatch(ctx, products)
			})

			It("embeds every product title", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(embedder.callCount()).To(Equal(2))
			})

			It("writes one point per product with deterministic ids", func() {
				Expect(upserted.Points).To(HaveLen(2))
				Expect(upserted.Points[0].ID).To(Equal(PointID("Molkerei", "40012").String()))
				Expect(upserted.Points[1].ID).To(Equal(PointID("Suesswaren", "40013").String()))
			})

			It("rounds payload prices to two decimals", func() {
				Expect(upserted.Points[0].Payload["price"]).To(Equal(1.25))
			})

			It("is idempotent: a second run produces the same ids", func() {
				firstIDs := []string{upserted.Points[0].ID, upserted.Points[1].ID}
				var second struct {
					Points []point `json:"points"`
				}
				server.AppendHandlers(
					ghttp.CombineHandlers(
						func(w http.ResponseWriter, r *http.Request) {
							Expect(json.NewDecoder(r.Body).Decode(&second)).To(Succeed())
						},
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": map[string]any{"status": "completed"}}),
					),
				)
				Expect(gateway.UpsertBatch(ctx, products)).To(Succeed())
				Expect(second.Points[0].ID).To(Equal(firstIDs[0]))
				Expect(second.Points[1].ID).To(Equal(firstIDs[1]))
			})
		})

		When("one product's embedding fails", func() {
			var upserted struct {
				Points []point `json:"points"`
			}

			BeforeEach(func() {
				embedder.failFor["BIO H-MILCH 3,8%"] = errors.New("model overloaded")
				server.AppendHandlers(
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("PUT", "/collections/products/points", "wait=true"),
						func(w http.ResponseWriter, r *http.Request) {
							Expect(json.NewDecoder(r.Body).Decode(&upserted)).To(Succeed())
						},
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": map[string]any{"status": "completed"}}),
					),
				)
				err = gateway.UpsertBatch(ctx, products)
			})

			It("drops the failed product and keeps the rest", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(upserted.Points).To(HaveLen(1))
				Expect(upserted.Points[0].Payload["full_name"]).To(Equal("SCHOKOTROEPFCHEN"))
			})
		})

		When("every embedding fails", func() {
			BeforeEach(func() {
				embedder.failFor["BIO H-MILCH 3,8%"] = errors.New("down")
				embedder.failFor["SCHOKOTROEPFCHEN"] = errors.New("down")
				err = gateway.UpsertBatch(ctx, products)
			})

			It("skips the write entirely", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(server.ReceivedRequests()).To(BeEmpty())
			})
		})
	})

	Describe("PatchPayload", func() {
		var patched struct {
			Payload map[string]any `json:"payload"`
			Points  []string       `json:"points"`
		}

		BeforeEach(func() {
			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/collections/products/points/payload", "wait=true"),
					func(w http.ResponseWriter, r *http.Request) {
						Expect(json.NewDecoder(r.Body).Decode(&patched)).To(Succeed())
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": true}),
				),
			)
			err = gateway.PatchPayload(ctx, []catalog.Product{
				{Category: "Molkerei", Title: "BIO H-MILCH 3,8%", Price: 1.3, ExternalID: "40012"},
			})
		})

		It("addresses the point by its deterministic id", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(patched.Points).To(Equal([]string{PointID("Molkerei", "40012").String()}))
		})

		It("rewrites name, category and price", func() {
			Expect(patched.Payload["full_name"]).To(Equal("BIO H-MILCH 3,8%"))
			Expect(patched.Payload["category"]).To(Equal("Molkerei"))
			Expect(patched.Payload["price"]).To(Equal(1.3))
		})

		It("never calls the embedder", func() {
			Expect(embedder.callCount()).To(Equal(0))
		})
	})

	Describe("SearchByKeywords", func() {
		var (
			candidate *Candidate
			searchReq map[string]any
		)

		hitResponse := func(score float64) map[string]any {
			return map[string]any{
				"result": []map[string]any{
					{
						"id":    PointID("Molkerei", "40012").String(),
						"score": score,
						"payload": map[string]any{
							"full_name": "BIO H-MILCH 3,8%",
							"category":  "Molkerei",
							"price":     1.25,
						},
					},
				},
			}
		}

		appendSearchHandler := func(response map[string]any) {
			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/collections/products/points/search"),
					func(w http.ResponseWriter, r *http.Request) {
						Expect(json.NewDecoder(r.Body).Decode(&searchReq)).To(Succeed())
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, response),
				),
			)
		}

		JustBeforeEach(func() {
			candidate, err = gateway.SearchByKeywords(ctx, "BIO H-MILCH 3,8%")
		})

		When("the top hit scores above the gate", func() {
			BeforeEach(func() {
				appendSearchHandler(hitResponse(0.91))
			})

			It("returns the candidate", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(candidate).NotTo(BeNil())
				Expect(candidate.Name).To(Equal("BIO H-MILCH 3,8%"))
				Expect(candidate.Price).To(Equal(1.25))
			})

			It("filters on name tokens longer than two characters, periods stripped", func() {
				filter := searchReq["filter"].(map[string]any)
				should := filter["should"].([]any)
				var keywords []string
				for _, cond := range should {
					match := cond.(map[string]any)["match"].(map[string]any)
					keywords = append(keywords, match["text"].(string))
				}
				Expect(keywords).To(Equal([]string{"BIO", "H-MILCH", "3,8%"}))
			})

			It("asks for a single hit", func() {
				Expect(searchReq["limit"]).To(Equal(1.0))
			})
		})

		When("the top hit scores exactly at the gate", func() {
			BeforeEach(func() {
				appendSearchHandler(hitResponse(0.82))
			})

			It("accepts the boundary score", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(candidate).NotTo(BeNil())
			})
		})

		When("the top hit scores just below the gate", func() {
			BeforeEach(func() {
				appendSearchHandler(hitResponse(0.81))
			})

			It("treats the hit as no match", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(candidate).To(BeNil())
			})
		})

		When("the index returns no hits", func() {
			BeforeEach(func() {
				appendSearchHandler(map[string]any{"result": []any{}})
			})

			It("returns no match without error", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(candidate).To(BeNil())
			})
		})
	})

	Describe("SearchByPriceAndCategory", func() {
		var (
			candidates []Candidate
			searchReq  map[string]any
		)

		BeforeEach(func() {
			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/collections/products/points/search"),
					func(w http.ResponseWriter, r *http.Request) {
						Expect(json.NewDecoder(r.Body).Decode(&searchReq)).To(Succeed())
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": []any{}}),
				),
			)
			candidates, err = gateway.SearchByPriceAndCategory(ctx, "MILCH", 1.25, "Molkerei")
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(BeEmpty())
		})

		It("requires the price within the margin and the category text", func() {
			filter := searchReq["filter"].(map[string]any)
			must := filter["must"].([]any)
			Expect(must).To(HaveLen(2))

			priceCond := must[0].(map[string]any)
			Expect(priceCond["key"]).To(Equal("price"))
			Expect(priceCond["range"].(map[string]any)["gte"]).To(BeNumerically("~", 0.75, 1e-9))
			Expect(priceCond["range"].(map[string]any)["lte"]).To(BeNumerically("~", 1.75, 1e-9))

			categoryCond := must[1].(map[string]any)
			Expect(categoryCond["key"]).To(Equal("category"))
			Expect(categoryCond["match"].(map[string]any)["text"]).To(Equal("Molkerei"))
		})

		It("asks for twenty hits", func() {
			Expect(searchReq["limit"]).To(Equal(20.0))
		})
	})

	Describe("Search", func() {
		When("the index is unreachable", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.RespondWith(http.StatusServiceUnavailable, "maintenance"),
				)
			})

			It("surfaces an upstream error", func() {
				_, err := gateway.Search(ctx, "MILCH", 20)
				Expect(errors.Is(err, ErrUpstream)).To(BeTrue())
			})
		})
	})
})
