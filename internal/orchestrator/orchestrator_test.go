package orchestrator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/masterdoc/internal/assembly"
	"github.com/local/masterdoc/internal/config"
	"github.com/local/masterdoc/internal/document"
	"github.com/local/masterdoc/internal/events"
	"github.com/local/masterdoc/internal/ledger"
	"github.com/local/masterdoc/internal/lock"
	"github.com/local/masterdoc/internal/orchestrator"
	"github.com/local/masterdoc/internal/storage"
	"github.com/local/masterdoc/internal/store"
	"github.com/local/masterdoc/internal/testsupport"
)

type fixture struct {
	cfg    config.Config
	store  *store.Store
	events *testsupport.EventRecorder
	locker *lock.FileLocker
	orch   *orchestrator.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ed := &testsupport.FakeEditor{}
	led := ledger.New(document.Counter{Editor: ed})
	rec := &testsupport.EventRecorder{}
	deps := assembly.Dependencies{Store: st, Ledger: led, Editor: ed, Probe: testsupport.FakeProbe{}, Events: rec}
	locker := lock.NewFileLocker(cfg.Storage.LockDir, 0)
	orch := orchestrator.New(orchestrator.Dependencies{
		Store:       st,
		Ledger:      led,
		Packer:      assembly.NewPacker(deps, assembly.PackerOptions{MasterDir: cfg.Storage.MasterDir, ByteSizeCap: 1 << 20, PlaceholderPages: 1}),
		Pruner:      assembly.NewPruner(deps),
		Source:      storage.Router{Files: storage.FileSource{Root: cfg.Storage.DownloadDir}},
		Locker:      locker,
		DownloadDir: cfg.Storage.DownloadDir,
	})
	return &fixture{cfg: cfg, store: st, events: rec, locker: locker, orch: orch}
}

// download writes a file below the download dir and returns its path.
func (f *fixture) download(t *testing.T, category, name string, data []byte) string {
	t.Helper()
	dir := filepath.Join(f.cfg.Storage.DownloadDir, category)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func (f *fixture) enqueue(t *testing.T, category, ref string, pages int) {
	t.Helper()
	path := f.download(t, category, filepath.Base(ref)+".pdf", testsupport.FakeContent(ref, pages, 0))
	added, err := f.orch.Enqueue(context.Background(), category, ref, path)
	require.NoError(t, err)
	require.True(t, added)
}

func (f *fixture) queued(t *testing.T, ref string) *ledger.Unprocessed {
	t.Helper()
	norm, err := ledger.NormalizeRef(ref)
	require.NoError(t, err)
	var u *ledger.Unprocessed
	require.NoError(t, f.store.WithTx(context.Background(), func(tx *store.Tx) error {
		var err error
		u, err = tx.UnprocessedBySourceRef(context.Background(), norm)
		return err
	}))
	return u
}

func TestRunPacksQueueInCategoryOrder(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "sport", "https://example.com/sport/1", 2)
	f.enqueue(t, "news", "https://example.com/news/1", 3)
	f.enqueue(t, "news", "https://example.com/news/2", 1)

	rep, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Consumed)
	assert.Zero(t, rep.Failed)
	assert.Zero(t, rep.Retry)
	assert.Equal(t, []string{"news", "sport"}, rep.Categories)
	assert.NotEmpty(t, rep.RunID)

	assembled := f.events.OfType(events.Assembled)
	require.Len(t, assembled, 3)
	assert.Equal(t, "news", assembled[0].Category)
	assert.Equal(t, "sport", assembled[2].Category)
	for _, ev := range assembled {
		assert.Equal(t, rep.RunID, ev.RunID)
	}

	rng, err := f.orch.Range(context.Background(), "https://example.com/news/2")
	require.NoError(t, err)
	assert.Equal(t, "news_1", rng.Master.Name)
	assert.Equal(t, 3, rng.Start)
	assert.Equal(t, 3, rng.End)

	assert.Equal(t, ledger.QueueConsumed, f.queued(t, "https://example.com/news/1").Status)

	again, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Consumed)
	assert.Empty(t, again.Categories)
}

func TestRunMarksMalformedContentFailed(t *testing.T) {
	f := newFixture(t)
	path := f.download(t, "news", "bad.pdf", []byte("not a document"))
	_, err := f.orch.Enqueue(context.Background(), "news", "https://example.com/bad", path)
	require.NoError(t, err)
	f.enqueue(t, "news", "https://example.com/good", 1)

	rep, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Consumed)

	u := f.queued(t, "https://example.com/bad")
	assert.Equal(t, ledger.QueueFailed, u.Status)
	assert.NotEmpty(t, u.Error)
}

func TestRunLeavesMissingContentPending(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Enqueue(context.Background(), "news", "https://example.com/gone", "gone.pdf")
	require.NoError(t, err)

	rep, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Retry)
	assert.Equal(t, ledger.QueuePending, f.queued(t, "https://example.com/gone").Status)
}

func TestRunSkipsLockedCategory(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "news", "https://example.com/news/1", 1)

	other := lock.NewFileLocker(f.cfg.Storage.LockDir, 0)
	release, err := other.Acquire(context.Background(), "news")
	require.NoError(t, err)

	rep, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"news"}, rep.Skipped)
	assert.Equal(t, ledger.QueuePending, f.queued(t, "https://example.com/news/1").Status)

	release()
	rep, err = f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Consumed)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "news", "https://example.com/news/1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.orch.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ledger.QueuePending, f.queued(t, "https://example.com/news/1").Status)
}

func TestEnqueueIsIdempotentPerNormalizedRef(t *testing.T) {
	f := newFixture(t)
	added, err := f.orch.Enqueue(context.Background(), "news", "https://Example.com/a/", "a.pdf")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = f.orch.Enqueue(context.Background(), "news", "https://example.com/a?utm=x", "a.pdf")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = f.orch.Enqueue(context.Background(), "", "https://example.com/b", "b.pdf")
	assert.Error(t, err)
}

func TestScanRegistersPDFDownloads(t *testing.T) {
	f := newFixture(t)
	pdf, err := document.BlankDocument(1)
	require.NoError(t, err)

	a := f.download(t, "news", "a.pdf", pdf)
	require.NoError(t, os.WriteFile(a+".url", []byte("https://example.com/news/a\n"), 0o644))
	b := f.download(t, "news", "b.pdf", pdf)
	f.download(t, "news", "c.pdf", []byte("plain text pretending to be a pdf"))

	rep, err := f.orch.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Registered)
	assert.Equal(t, 1, rep.Skipped)

	assert.Equal(t, a, f.queued(t, "https://example.com/news/a").ContentRef)
	assert.Equal(t, b, f.queued(t, "file://"+filepath.ToSlash(b)).ContentRef)

	rep, err = f.orch.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Registered)
	assert.Equal(t, 2, rep.Known)
}

func TestCompactAndMoveByMasterName(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "news", "https://example.com/1", 2)
	f.enqueue(t, "news", "https://example.com/2", 2)
	f.enqueue(t, "news", "https://example.com/3", 2)
	_, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	_, err = f.orch.Move(context.Background(), "https://example.com/3", "news_1", 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidRange)

	_, err = f.orch.Remove(context.Background(), "https://example.com/2", assembly.RemoveOptions{})
	require.NoError(t, err)
	shifts, err := f.orch.Compact(context.Background(), "news_1")
	require.NoError(t, err)
	assert.Len(t, shifts, 1)

	rng, err := f.orch.Range(context.Background(), "https://example.com/3")
	require.NoError(t, err)
	assert.Equal(t, 2, rng.Start)

	_, err = f.orch.Compact(context.Background(), "news_9")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestHTTPRoutes(t *testing.T) {
	f := newFixture(t)
	mux := http.NewServeMux()
	f.orch.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	path := f.download(t, "news", "one.pdf", testsupport.FakeContent("one", 2, 0))
	body := `{"category":"news","source_ref":"https://example.com/one","content_ref":"` + path + `"}`

	resp, err := http.Post(srv.URL+"/enqueue", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/enqueue", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/run", "application/json", nil)
	require.NoError(t, err)
	var rep orchestrator.RunReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	resp.Body.Close()
	assert.Equal(t, 1, rep.Consumed)

	rangeURL := srv.URL + "/range?source_ref=" + url.QueryEscape("https://example.com/one")
	resp, err = http.Get(rangeURL)
	require.NoError(t, err)
	var rng map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rng))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "news_1", rng["master"])
	assert.EqualValues(t, 0, rng["start_page"])
	assert.EqualValues(t, 1, rng["end_page"])

	resp, err = http.Post(srv.URL+"/remove", "application/json", strings.NewReader(`{"source_ref":"https://example.com/one"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(rangeURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/run")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
