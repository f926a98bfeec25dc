package search

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

const (
	sougouHost    = "tms.tencentcloudapi.com"
	sougouService = "tms"
	sougouAction  = "SearchPro"
	sougouVersion = "2020-12-29"
	sougouCType   = "application/json; charset=utf-8"
)

// SougouEngine queries Sogou web search through Tencent Cloud TMS SearchPro,
// signing each call with TC3-HMAC-SHA256.
type SougouEngine struct {
	BaseURL    string
	secretID   string
	secretKey  string
	httpClient *http.Client
	now        func() time.Time
}

var _ port.SearchEngine = (*SougouEngine)(nil)

// NewSougouEngine creates the engine with Tencent Cloud credentials.
func NewSougouEngine(secretID, secretKey string, client *http.Client) *SougouEngine {
	return &SougouEngine{
		BaseURL:    "https://" + sougouHost + "/",
		secretID:   secretID,
		secretKey:  secretKey,
		httpClient: client,
		now:        time.Now,
	}
}

// Name returns "sougou".
func (s *SougouEngine) Name() string { return "sougou" }

// Search calls SearchPro and returns pages ordered by their score.
func (s *SougouEngine) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 || limit > 20 {
		limit = 20 // API max
	}
	payload, err := json.Marshal(map[string]interface{}{"Query": query, "Cnt": limit})
	if err != nil {
		return nil, fmt.Errorf("sougou: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("sougou: create request: %w", err)
	}
	timestamp := s.now().Unix()
	req.Header.Set("Content-Type", sougouCType)
	req.Header.Set("Host", sougouHost)
	req.Header.Set("X-TC-Action", sougouAction)
	req.Header.Set("X-TC-Version", sougouVersion)
	req.Header.Set("X-TC-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("Authorization", s.authorization(payload, timestamp))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sougou: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("sougou API error (%d): %s", resp.StatusCode, string(body))
	}

	var out struct {
		Response struct {
			Pages []string `json:"Pages"`
			Error *struct {
				Code    string `json:"Code"`
				Message string `json:"Message"`
			} `json:"Error"`
		} `json:"Response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("sougou: decode: %w", err)
	}
	if out.Response.Error != nil {
		return nil, fmt.Errorf("sougou API error %s: %s", out.Response.Error.Code, out.Response.Error.Message)
	}

	type page struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Passage string  `json:"passage"`
		Score   float64 `json:"scour"`
	}
	pages := make([]page, 0, len(out.Response.Pages))
	for _, raw := range out.Response.Pages {
		var p page
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		pages = append(pages, p)
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Score > pages[j].Score })

	results := make([]domain.SearchResult, 0, len(pages))
	for _, p := range pages {
		results = append(results, domain.SearchResult{
			Title:   p.Title,
			URL:     p.URL,
			Snippet: p.Passage,
			Source:  "sougou",
		})
	}
	return results, nil
}

// authorization builds the TC3-HMAC-SHA256 Authorization header value.
func (s *SougouEngine) authorization(payload []byte, timestamp int64) string {
	const signedHeaders = "content-type;host"
	canonicalRequest := "POST\n/\n\n" +
		"content-type:" + sougouCType + "\n" +
		"host:" + sougouHost + "\n\n" +
		signedHeaders + "\n" +
		sha256Hex(payload)

	date := time.Unix(timestamp, 0).UTC().Format("2006-01-02")
	scope := date + "/" + sougouService + "/tc3_request"
	stringToSign := "TC3-HMAC-SHA256\n" +
		strconv.FormatInt(timestamp, 10) + "\n" +
		scope + "\n" +
		sha256Hex([]byte(canonicalRequest))

	secretDate := hmacSHA256([]byte("TC3"+s.secretKey), date)
	secretService := hmacSHA256(secretDate, sougouService)
	secretSigning := hmacSHA256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	return "TC3-HMAC-SHA256 Credential=" + s.secretID + "/" + scope +
		", SignedHeaders=" + signedHeaders + ", Signature=" + signature
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
