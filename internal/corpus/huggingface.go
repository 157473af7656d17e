package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const (
	maxPageSize   = 100
	defaultConfig = "default"

	maxRequestAttempts = 3
	maxRetryWait       = time.Minute
)

// HuggingFaceSource reads datasets through the Hugging Face
// datasets-server REST API.
type HuggingFaceSource struct {
	baseURL  string
	pageSize int
	token    string
	client   *http.Client
	sleep    func(ctx context.Context, d time.Duration) error

	// dataset/split -> dataset config, filled by Splits
	configs sync.Map
}

// NewHuggingFaceSource creates a source for baseURL.
// pageSize is clamped to the server maximum of 100 rows.
func NewHuggingFaceSource(baseURL string, pageSize int, token string) *HuggingFaceSource {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return &HuggingFaceSource{
		baseURL:  baseURL,
		pageSize: pageSize,
		token:    token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		sleep: sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type splitsResponse struct {
	Splits []struct {
		Dataset string `json:"dataset"`
		Config  string `json:"config"`
		Split   string `json:"split"`
	} `json:"splits"`
}

type rowsResponse struct {
	Rows []struct {
		RowIdx int    `json:"row_idx"`
		Row    Record `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// Splits lists the splits of dataset. When a dataset has several configs
// the "default" config wins, otherwise the first one listed.
func (s *HuggingFaceSource) Splits(ctx context.Context, dataset string) ([]string, error) {
	var rsp splitsResponse
	query := url.Values{"dataset": {dataset}}

	if err := s.do(ctx, "/splits", query, &rsp); err != nil {
		return nil, err
	}

	var splits []string
	for _, entry := range rsp.Splits {
		key := dataset + "/" + entry.Split
		prev, seen := s.configs.Load(key)
		if !seen {
			splits = append(splits, entry.Split)
			s.configs.Store(key, entry.Config)
			continue
		}
		if prev.(string) != defaultConfig && entry.Config == defaultConfig {
			s.configs.Store(key, entry.Config)
		}
	}

	return splits, nil
}

// Rows pages through every row of dataset/split
func (s *HuggingFaceSource) Rows(ctx context.Context, dataset, split string) ([]Record, error) {
	cfg := defaultConfig
	if v, ok := s.configs.Load(dataset + "/" + split); ok {
		cfg = v.(string)
	}

	var records []Record
	for offset := 0; ; {
		var rsp rowsResponse
		query := url.Values{
			"dataset": {dataset},
			"config":  {cfg},
			"split":   {split},
			"offset":  {strconv.Itoa(offset)},
			"length":  {strconv.Itoa(s.pageSize)},
		}

		if err := s.do(ctx, "/rows", query, &rsp); err != nil {
			return nil, fmt.Errorf("rows %s/%s at offset %d: %w", dataset, split, offset, err)
		}

		for _, row := range rsp.Rows {
			records = append(records, row.Row)
		}

		offset += len(rsp.Rows)
		if len(rsp.Rows) == 0 || offset >= rsp.NumRowsTotal {
			break
		}
	}

	return records, nil
}

// do issues a GET and decodes the JSON body into rsp. Throttled responses
// (429, 503) are retried up to maxRequestAttempts times, waiting for the
// server's Retry-After when it sends one.
func (s *HuggingFaceSource) do(ctx context.Context, path string, query url.Values, rsp any) error {
	u := s.baseURL + path + "?" + query.Encode()

	for attempt := 1; ; attempt++ {
		status, header, payload, err := s.get(ctx, u)
		if err != nil {
			return err
		}

		if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
			if attempt >= maxRequestAttempts {
				return fmt.Errorf("datasets-server http %d after %d attempts: %s", status, attempt, string(payload))
			}
			if err := s.sleep(ctx, retryWait(header, attempt)); err != nil {
				return err
			}
			continue
		}

		if status >= 400 {
			return fmt.Errorf("datasets-server http %d: %s", status, string(payload))
		}

		if rsp != nil && len(payload) > 0 {
			if err := json.Unmarshal(payload, rsp); err != nil {
				return err
			}
		}
		return nil
	}
}

func (s *HuggingFaceSource) get(ctx context.Context, u string) (int, http.Header, []byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, nil, err
	}

	request.Header.Set("Accept", "application/json")

	if len(s.token) > 0 {
		request.Header.Set("Authorization", "Bearer "+s.token)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return 0, nil, nil, err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, nil, nil, err
	}

	return response.StatusCode, response.Header, payload, nil
}

// retryWait honours a Retry-After given in seconds or as an HTTP date and
// falls back to 2^attempt seconds.
func retryWait(header http.Header, attempt int) time.Duration {
	wait := time.Duration(1<<attempt) * time.Second

	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(v); err == nil {
			wait = max(time.Until(at), 0)
		}
	}

	return min(wait, maxRetryWait)
}
