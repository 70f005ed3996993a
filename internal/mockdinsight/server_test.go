package mockdinsight_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dinsight-analytics/stream-replay/internal/mockdinsight"
)

func startServer(t *testing.T) (*mockdinsight.Server, *httptest.Server) {
	t.Helper()
	s := mockdinsight.New()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func postFile(t *testing.T, url, field, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp
}

func TestAnalyzeAndPollLifecycle(t *testing.T) {
	t.Parallel()

	s, srv := startServer(t)
	s.SetReadyAfterPolls(2)

	resp := postFile(t, srv.URL+"/api/v1/analyze", "files", "baseline.csv", "f_0\n1\n2\n3\n")
	var analyze struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&analyze); err != nil {
		t.Fatalf("decode analyze: %v", err)
	}
	if analyze.Data.ID == 0 {
		t.Fatalf("expected a job id")
	}

	url := fmt.Sprintf("%s/api/v1/dinsight/%d", srv.URL, analyze.Data.ID)
	for poll := 1; poll <= 3; poll++ {
		var out struct {
			Data struct {
				X []float64 `json:"dinsight_x"`
			} `json:"data"`
		}
		getJSON(t, url, &out)
		ready := len(out.Data.X) > 0
		wantReady := poll > 2
		if ready != wantReady {
			t.Fatalf("poll %d: ready=%v, want %v", poll, ready, wantReady)
		}
		if wantReady && len(out.Data.X) != 3 {
			t.Fatalf("expected 3 coordinates, got %d", len(out.Data.X))
		}
	}
}

func TestMonitorIngestion(t *testing.T) {
	t.Parallel()

	s, srv := startServer(t)
	s.SeedBaseline(7, []float64{0}, []float64{0})
	s.InjectMonitorFailure(503, "unavailable")

	url := srv.URL + "/api/v1/monitor/7"

	if resp := postFile(t, url, "file", "b1.csv", "f_0\n1\n"); resp.StatusCode != 503 {
		t.Fatalf("expected injected 503, got %d", resp.StatusCode)
	}
	if resp := postFile(t, url, "file", "b1.csv", "f_0\n1\n"); resp.StatusCode != 200 {
		t.Fatalf("expected 200 after draining the failure, got %d", resp.StatusCode)
	}
	if resp := postFile(t, url, "file", "b2.csv", "f_0\n2\n3\n"); resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	batches := s.Batches()
	if len(batches) != 2 {
		t.Fatalf("expected 2 recorded batches, got %d", len(batches))
	}
	if batches[1].Filename != "b2.csv" || batches[1].Points != 2 {
		t.Fatalf("unexpected second batch: %+v", batches[1])
	}

	var coords struct {
		X []float64 `json:"dinsight_x"`
	}
	getJSON(t, fmt.Sprintf("%s/api/v1/monitor/7/coordinates", srv.URL), &coords)
	if len(coords.X) != 3 {
		t.Fatalf("expected 3 ingested points, got %d", len(coords.X))
	}
}

func TestStreamingConfig(t *testing.T) {
	t.Parallel()

	s, srv := startServer(t)
	body := bytes.NewBufferString(`{"latest_glow_count":10,"batch_size":5,"delay_seconds":1.5}`)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/streaming/3/config", body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cfg, ok := s.Config(3)
	if !ok {
		t.Fatalf("config was not recorded")
	}
	var decoded struct {
		BatchSize int `json:"batch_size"`
	}
	if err := json.Unmarshal(cfg, &decoded); err != nil {
		t.Fatalf("unmarshal recorded config: %v", err)
	}
	if decoded.BatchSize != 5 {
		t.Fatalf("unexpected recorded batch size: %d", decoded.BatchSize)
	}
}

func TestCallRecording(t *testing.T) {
	t.Parallel()

	s, srv := startServer(t)
	s.SeedBaseline(1, []float64{0}, []float64{0})
	getJSON(t, srv.URL+"/api/v1/dinsight/1", nil)

	calls := s.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 recorded call, got %d", len(calls))
	}
	if got := calls[0].String(); got != "GET /api/v1/dinsight/1" {
		t.Fatalf("unexpected call: %q", got)
	}
}
