package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"

	"kptv-panel/work/auth"
	"kptv-panel/work/cache"
	"kptv-panel/work/client"
	"kptv-panel/work/config"
	"kptv-panel/work/database"
	"kptv-panel/work/rewrite"
	"kptv-panel/work/types"
)

func newTestRelay(t *testing.T) (*StreamRelay, *database.DB) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		CacheEnabled:  true,
		CacheDuration: time.Hour,
		FetchTimeout:  2 * time.Second,
		FetchWorkers:  4,
		UserAgent:     "test-agent",
	}

	pool, err := ants.NewPool(cfg.FetchWorkers)
	if err != nil {
		t.Fatalf("worker pool: %v", err)
	}
	t.Cleanup(pool.Release)

	sr := New(cfg, db, cache.New(cfg.CacheDuration), client.NewHeaderSettingClient(cfg), pool)
	return sr, db
}

func addSubscriber(t *testing.T, db *database.DB, username, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	_, err = db.SaveSubscriber(&types.Subscriber{
		Username:     username,
		PasswordHash: hash,
		Status:       types.StatusActive,
	})
	if err != nil {
		t.Fatalf("save subscriber: %v", err)
	}
}

func addSource(t *testing.T, db *database.DB, name, url string) {
	t.Helper()
	_, err := db.SavePlaylist(&types.PlaylistSource{
		Name:   name,
		URL:    url,
		Status: types.StatusActive,
	})
	if err != nil {
		t.Fatalf("save playlist source: %v", err)
	}
}

func playlistServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/x-mpegurl")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func getPlaylist(sr *StreamRelay, username, password string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet,
		"http://panel.test/get.php?username="+url.QueryEscape(username)+"&password="+url.QueryEscape(password), nil)
	w := httptest.NewRecorder()
	sr.GeneratePlaylist(w, r)
	return w
}

func TestGeneratePlaylistRejectsBadCredentials(t *testing.T) {
	sr, db := newTestRelay(t)
	addSubscriber(t, db, "alice", "hunter2")

	if w := getPlaylist(sr, "alice", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", w.Code)
	}
	if w := getPlaylist(sr, "nobody", "hunter2"); w.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: status = %d, want 401", w.Code)
	}
}

func TestGeneratePlaylistMergesAndRewrites(t *testing.T) {
	sr, db := newTestRelay(t)
	addSubscriber(t, db, "alice", "hunter2")

	srvA := playlistServer(t, "#EXTM3U\n#EXTINF:-1,One\nhttp://up/u1\n#EXTINF:-1,Two\nhttp://up/u2\n")
	srvB := playlistServer(t, "#EXTM3U\n#EXTINF:-1,Two B\nhttp://up/u2\n#EXTINF:-1,Three\nhttp://up/u3\n")
	addSource(t, db, "a", srvA.URL)
	addSource(t, db, "b", srvB.URL)

	w := getPlaylist(sr, "alice", "hunter2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body:\n%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/x-mpegurl" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := w.Body.String()
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if lines[0] != "#EXTM3U" {
		t.Errorf("first line = %q, want #EXTM3U", lines[0])
	}

	// every stream line is an opaque token under this host's relay endpoint,
	// decodable back to the upstream URL
	var decoded []string
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "#") {
			continue
		}
		const prefix = "http://panel.test/stream/"
		if !strings.HasPrefix(line, prefix) {
			t.Fatalf("stream line %q not rewritten through relay", line)
		}
		u, err := rewrite.Decode(strings.TrimPrefix(line, prefix))
		if err != nil {
			t.Fatalf("token in %q does not decode: %v", line, err)
		}
		decoded = append(decoded, u)
	}

	want := []string{"http://up/u1", "http://up/u2", "http://up/u3"}
	if len(decoded) != len(want) {
		t.Fatalf("decoded urls = %v, want %v", decoded, want)
	}
	for i := range want {
		if decoded[i] != want[i] {
			t.Errorf("decoded[%d] = %q, want %q", i, decoded[i], want[i])
		}
	}

	// duplicate u2 kept the first source's metadata
	if !strings.Contains(body, "#EXTINF:-1,Two") || strings.Contains(body, "#EXTINF:-1,Two B") {
		t.Errorf("dedup kept wrong metadata:\n%s", body)
	}
}

func TestGeneratePlaylistServesFromCache(t *testing.T) {
	sr, db := newTestRelay(t)
	addSubscriber(t, db, "alice", "hunter2")

	srv := playlistServer(t, "#EXTM3U\n#EXTINF:-1,One\nhttp://up/u1\n")
	addSource(t, db, "a", srv.URL)

	if w := getPlaylist(sr, "alice", "hunter2"); w.Code != http.StatusOK {
		t.Fatalf("warm-up: status = %d", w.Code)
	}

	// upstream gone, the cached merge still serves
	srv.Close()

	w := getPlaylist(sr, "alice", "hunter2")
	if w.Code != http.StatusOK {
		t.Fatalf("cached: status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/stream/") {
		t.Errorf("cached body lost its rewritten urls:\n%s", w.Body.String())
	}
}

func TestGeneratePlaylistDegradesWhenAllSourcesFail(t *testing.T) {
	sr, db := newTestRelay(t)
	addSubscriber(t, db, "alice", "hunter2")

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	t.Cleanup(dead.Close)
	addSource(t, db, "dead", dead.URL)

	w := getPlaylist(sr, "alice", "hunter2")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if w.Body.String() != "#EXTM3U\n" {
		t.Errorf("body = %q, want bare header", w.Body.String())
	}
}

func TestGeneratePlaylistNoSourcesConfigured(t *testing.T) {
	sr, db := newTestRelay(t)
	addSubscriber(t, db, "alice", "hunter2")

	w := getPlaylist(sr, "alice", "hunter2")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if w.Body.String() != "#EXTM3U\n" {
		t.Errorf("body = %q, want bare header", w.Body.String())
	}
}

func TestRelayStreamMedia(t *testing.T) {
	sr, _ := newTestRelay(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.Write([]byte("media-bytes"))
	}))
	t.Cleanup(upstream.Close)

	r := httptest.NewRequest(http.MethodGet, "http://panel.test/stream/x", nil)
	w := httptest.NewRecorder()
	sr.RelayStream(w, r, rewrite.Encode(upstream.URL+"/live.ts"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "media-bytes" {
		t.Errorf("body = %q", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/mp2t" {
		t.Errorf("Content-Type = %q, upstream type should be preserved", ct)
	}
}

func TestRelayStreamRewritesHLS(t *testing.T) {
	sr, _ := newTestRelay(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\nlow/index.m3u8\n"))
	}))
	t.Cleanup(upstream.Close)

	r := httptest.NewRequest(http.MethodGet, "http://panel.test/stream/x", nil)
	w := httptest.NewRecorder()
	sr.RelayStream(w, r, rewrite.Encode(upstream.URL+"/master.m3u8"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "\nlow/index.m3u8") {
		t.Errorf("variant URI not rewritten:\n%s", body)
	}
	if !strings.Contains(body, "http://panel.test/stream/") {
		t.Errorf("variant should point back at the relay:\n%s", body)
	}
}

func TestRelayStreamBadToken(t *testing.T) {
	sr, _ := newTestRelay(t)

	for _, token := range []string{"not!!valid", rewrite.Encode("ftp://example.com/file"), rewrite.Encode("not a url")} {
		r := httptest.NewRequest(http.MethodGet, "http://panel.test/stream/x", nil)
		w := httptest.NewRecorder()
		sr.RelayStream(w, r, token)
		if w.Code != http.StatusBadRequest {
			t.Errorf("token %q: status = %d, want 400", token, w.Code)
		}
	}
}

func TestRelayStreamUpstreamFailure(t *testing.T) {
	sr, _ := newTestRelay(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(upstream.Close)

	r := httptest.NewRequest(http.MethodGet, "http://panel.test/stream/x", nil)
	w := httptest.NewRecorder()
	sr.RelayStream(w, r, rewrite.Encode(upstream.URL+"/live.ts"))
	if w.Code != http.StatusBadGateway {
		t.Errorf("upstream 403: status = %d, want 502", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "http://panel.test/stream/x", nil)
	w = httptest.NewRecorder()
	sr.RelayStream(w, r, rewrite.Encode("http://127.0.0.1:1/unreachable.ts"))
	if w.Code != http.StatusBadGateway {
		t.Errorf("unreachable upstream: status = %d, want 502", w.Code)
	}
}

func TestBrowse(t *testing.T) {
	sr, db := newTestRelay(t)
	addSubscriber(t, db, "alice", "hunter2")

	srv := playlistServer(t, "#EXTM3U\n"+
		`#EXTINF:-1 group-title="News",BBC`+"\nhttp://up/bbc\n"+
		`#EXTINF:-1 group-title="Sports",ESPN`+"\nhttp://up/espn\n"+
		`#EXTINF:-1 group-title="News",CNN`+"\nhttp://up/cnn\n")
	addSource(t, db, "a", srv.URL)

	r := httptest.NewRequest(http.MethodGet, "http://panel.test/channels?username=alice&password=hunter2", nil)
	w := httptest.NewRecorder()
	sr.Browse(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", w.Code, w.Body.String())
	}
	var resp BrowseResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
	if len(resp.AllCategories) != 2 || resp.AllCategories[0] != "News" || resp.AllCategories[1] != "Sports" {
		t.Errorf("all_categories = %v", resp.AllCategories)
	}
	if len(resp.Categories["News"]) != 2 {
		t.Errorf("News has %d channels, want 2", len(resp.Categories["News"]))
	}

	// category narrowing
	r = httptest.NewRequest(http.MethodGet, "http://panel.test/channels?username=alice&password=hunter2&category=Sports", nil)
	w = httptest.NewRecorder()
	sr.Browse(w, r)

	resp = BrowseResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode narrowed response: %v", err)
	}
	if resp.Total != 1 || len(resp.Categories) != 1 {
		t.Errorf("narrowed response = %+v", resp)
	}
}

func TestBrowseRejectsBadCredentials(t *testing.T) {
	sr, db := newTestRelay(t)
	addSubscriber(t, db, "alice", "hunter2")

	r := httptest.NewRequest(http.MethodGet, "http://panel.test/channels?username=alice&password=wrong", nil)
	w := httptest.NewRecorder()
	sr.Browse(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want JSON error", ct)
	}
}
