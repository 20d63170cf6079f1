package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/knowledgebeast/knowledgebeast/pkg/models"
)

type candidateDTO struct {
	ChunkID string  `json:"ChunkID"`
	Score   float64 `json:"Score"`
}

type queryResponseDTO struct {
	Results  []candidateDTO `json:"Results"`
	Degraded bool           `json:"Degraded"`
	CacheHit bool           `json:"CacheHit"`
}

func postJSON(url, apiKey string, body interface{}) (*http.Response, []byte) {
	raw, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

// createProject stands up a project over HTTP and mints a read+write
// key for it via the facade (no key exists to authenticate the HTTP
// route that would otherwise create one).
func createProject(s *stack, name string) (projectID, apiKey string) {
	resp, body := postJSON(s.server.URL+"/api/v2/projects", "", map[string]interface{}{
		"name":               name,
		"embedding_model_id": "mock-embed",
	})
	Expect(resp.StatusCode).To(Equal(http.StatusCreated))
	var p models.Project
	Expect(json.Unmarshal(body, &p)).To(Succeed())
	key := s.mintKey(p.ID, models.ScopeRead, models.ScopeWrite, models.ScopeAdmin)
	return p.ID, key
}

var _ = Describe("end to end scenarios", func() {
	var s *stack

	BeforeEach(func() {
		s = newStack()
	})

	AfterEach(func() {
		s.close()
	})

	It("scenario 1: hybrid query returns a content match with degraded=false", func() {
		projectID, apiKey := createProject(s, "scenario-1")

		resp, body := postJSON(fmt.Sprintf("%s/api/v2/projects/%s/ingest", s.server.URL, projectID), apiKey, map[string]interface{}{
			"items": []map[string]interface{}{
				{"source": "# Install\n\npip install foo"},
			},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		_ = body

		resp, body = postJSON(fmt.Sprintf("%s/api/v2/projects/%s/query", s.server.URL, projectID), apiKey, map[string]interface{}{
			"query":  "install",
			"mode":   "hybrid",
			"top_k":  5,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var q queryResponseDTO
		Expect(json.Unmarshal(body, &q)).To(Succeed())
		Expect(q.Degraded).To(BeFalse())
		Expect(q.Results).NotTo(BeEmpty())

		found := false
		for _, r := range q.Results {
			texts, err := s.chunkText.LookupText(context.Background(), []string{r.ChunkID})
			Expect(err).NotTo(HaveOccurred())
			if strings.Contains(texts[r.ChunkID], "pip install foo") {
				found = true
			}
		}
		Expect(found).To(BeTrue())
	})

	It("scenario 2: vector backend down degrades hybrid mode to keyword-only", func() {
		projectID, apiKey := createProject(s, "scenario-2")

		resp, _ := postJSON(fmt.Sprintf("%s/api/v2/projects/%s/ingest", s.server.URL, projectID), apiKey, map[string]interface{}{
			"items": []map[string]interface{}{
				{"source": "# Install\n\npip install foo"},
			},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		s.vectors.setDown(true)

		resp, body := postJSON(fmt.Sprintf("%s/api/v2/projects/%s/query", s.server.URL, projectID), apiKey, map[string]interface{}{
			"query": "install",
			"mode":  "hybrid",
			"top_k": 5,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var q queryResponseDTO
		Expect(json.Unmarshal(body, &q)).To(Succeed())
		Expect(q.Degraded).To(BeTrue())
		Expect(q.Results).NotTo(BeEmpty())
	})

	It("scenario 3: vector backend down fails vector-only mode with BackendUnavailable", func() {
		projectID, apiKey := createProject(s, "scenario-3")

		resp, _ := postJSON(fmt.Sprintf("%s/api/v2/projects/%s/ingest", s.server.URL, projectID), apiKey, map[string]interface{}{
			"items": []map[string]interface{}{
				{"source": "# Install\n\npip install foo"},
			},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		s.vectors.setDown(true)

		resp, body := postJSON(fmt.Sprintf("%s/api/v2/projects/%s/query", s.server.URL, projectID), apiKey, map[string]interface{}{
			"query": "install",
			"mode":  "vector",
			"top_k": 5,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		Expect(string(body)).To(ContainSubstring("backend_unavailable"))
	})

	It("scenario 4: rapid ingest without client-supplied ids yields distinct doc_ids", func() {
		projectID, apiKey := createProject(s, "scenario-4")

		resp, body := postJSON(fmt.Sprintf("%s/api/v2/projects/%s/ingest", s.server.URL, projectID), apiKey, map[string]interface{}{
			"items": []map[string]interface{}{
				{"source": "doc one text"},
				{"source": "doc two text"},
				{"source": "doc three text"},
			},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var out struct {
			Results []struct {
				DocID string `json:"doc_id"`
			} `json:"results"`
		}
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		Expect(out.Results).To(HaveLen(3))

		seen := map[string]bool{}
		for _, r := range out.Results {
			Expect(r.DocID).NotTo(BeEmpty())
			Expect(seen[r.DocID]).To(BeFalse())
			seen[r.DocID] = true
		}
	})

	It("scenario 5: projects are isolated from one another's content", func() {
		projectA, keyA := createProject(s, "scenario-5-a")
		projectB, keyB := createProject(s, "scenario-5-b")
		_ = keyA

		resp, _ := postJSON(fmt.Sprintf("%s/api/v2/projects/%s/ingest", s.server.URL, projectA), keyA, map[string]interface{}{
			"items": []map[string]interface{}{
				{"source": "alpha-secret project content"},
			},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp, body := postJSON(fmt.Sprintf("%s/api/v2/projects/%s/query", s.server.URL, projectB), keyB, map[string]interface{}{
			"query": "alpha-secret",
			"mode":  "hybrid",
			"top_k": 5,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var q queryResponseDTO
		Expect(json.Unmarshal(body, &q)).To(Succeed())
		Expect(q.Results).To(BeEmpty())
	})

	It("scenario 6: an empty query returns an empty result set in every mode", func() {
		projectID, apiKey := createProject(s, "scenario-6")

		for _, mode := range []string{"vector", "keyword", "hybrid"} {
			resp, body := postJSON(fmt.Sprintf("%s/api/v2/projects/%s/query", s.server.URL, projectID), apiKey, map[string]interface{}{
				"query": "",
				"mode":  mode,
				"top_k": 5,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var q queryResponseDTO
			Expect(json.Unmarshal(body, &q)).To(Succeed())
			Expect(q.Results).To(BeEmpty())
		}
	})

	It("boundary: top_k=0 returns an empty result set rather than the default page size", func() {
		projectID, apiKey := createProject(s, "scenario-topk0")

		resp, _ := postJSON(fmt.Sprintf("%s/api/v2/projects/%s/ingest", s.server.URL, projectID), apiKey, map[string]interface{}{
			"items": []map[string]interface{}{
				{"source": "some content to index"},
			},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp, body := postJSON(fmt.Sprintf("%s/api/v2/projects/%s/query", s.server.URL, projectID), apiKey, map[string]interface{}{
			"query": "content",
			"mode":  "hybrid",
			"top_k": 0,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var q queryResponseDTO
		Expect(json.Unmarshal(body, &q)).To(Succeed())
		Expect(q.Results).To(BeEmpty())
	})
})
