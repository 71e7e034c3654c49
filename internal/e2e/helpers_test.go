package e2e

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"ghostd/internal/artifact"
	"ghostd/internal/device"
	"ghostd/internal/engine"
	"ghostd/internal/httpapi"
	"ghostd/internal/manager"
	"ghostd/internal/registry"
	"ghostd/pkg/types"
)

// modelFile is the one artifact the fake registry publishes.
const modelFile = "tiny-model.Q8_0.gguf"

type echoEngine struct{ path string }

func (e echoEngine) Complete(_ context.Context, prompt string, _ int) (string, error) {
	if engine.IsFIMPrompt(prompt) {
		return "middle<|fim_pad|>\n\n", nil
	}
	return " end", nil
}

func (echoEngine) Close() error { return nil }

// recordingBackend loads echoEngines and remembers the options of each load.
type recordingBackend struct {
	mu    sync.Mutex
	loads []engine.LoadOptions
	paths []string
}

func (b *recordingBackend) Init() error { return nil }

func (b *recordingBackend) Load(path string, o engine.LoadOptions) (engine.Engine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads = append(b.loads, o)
	b.paths = append(b.paths, path)
	return echoEngine{path: path}, nil
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.loads)
}

// newRegistry serves the listing and content endpoints of a model registry.
func newRegistry(t *testing.T, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	sum := sha256.Sum256(body)
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/models/owner/repo":
			_ = json.NewEncoder(w).Encode(map[string]any{"siblings": []map[string]string{
				{"rfilename": "README.md"},
				{"rfilename": modelFile},
				{"rfilename": "tiny-model.Q8_0-imatrix.gguf"},
			}})
		case "/owner/repo/resolve/main/" + modelFile:
			fetches.Add(1)
			w.Header().Set("X-Linked-Etag", `"`+hex.EncodeToString(sum[:])+`"`)
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			_, _ = w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

type stack struct {
	api      *httptest.Server
	mgr      *manager.Manager
	backend  *recordingBackend
	fetches  *atomic.Int32
	modelDir string
}

func newStack(t *testing.T, devs device.Static) *stack {
	t.Helper()
	body := bytes.Repeat([]byte("gguf"), 3*artifact.ChunkSize/4+11)
	reg, fetches := newRegistry(t, body)

	dir := t.TempDir()
	client := registry.New(registry.WithBaseURL(reg.URL))
	st := manager.DefaultSettings()
	st.DefaultCPUModel = "owner/repo:Q8_0"
	st.DefaultGPUModel = "owner/repo:Q8_0"
	be := &recordingBackend{}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Settings: st,
		Store:    artifact.New(dir, client, client),
		Backend:  be,
		Devices:  devs,
	})
	api := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		api.Close()
		_ = mgr.Close()
	})
	return &stack{api: api, mgr: mgr, backend: be, fetches: fetches, modelDir: dir}
}

func (s *stack) get(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(s.api.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("GET %s decode: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (s *stack) send(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.api.URL+path, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	out, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, out
}

func (s *stack) complete(t *testing.T, text string, cursor int, manual bool) (int, types.CompleteResponse) {
	t.Helper()
	resp, body := s.send(t, http.MethodPost, "/complete", types.CompleteRequest{Text: text, Cursor: cursor, Manual: manual})
	var out types.CompleteResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("decode complete: %v body=%s", err, body)
		}
	}
	return resp.StatusCode, out
}

func ndjson(t *testing.T, body []byte) []types.DownloadEvent {
	t.Helper()
	var out []types.DownloadEvent
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var ev types.DownloadEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("ndjson line %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}
