package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/T-SHELLY/aeroAR/internal/audio"
	"github.com/T-SHELLY/aeroAR/internal/auth"
	"github.com/T-SHELLY/aeroAR/internal/config"
	"github.com/T-SHELLY/aeroAR/internal/metrics"
	"github.com/T-SHELLY/aeroAR/internal/pipeline"
	"github.com/T-SHELLY/aeroAR/internal/store"
)

const (
	testTrainerUser = "trainer"
	testTrainerPass = "trainer-pass"
)

// fakeNormalizer stands in for ffmpeg and always yields the same canonical clip
type fakeNormalizer struct{}

func (fakeNormalizer) Normalize(ctx context.Context, raw []byte) ([]byte, error) {
	return audio.EncodePCM([]int16{1, 2, 3, 4}, audio.CanonicalSampleRate)
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(ctx context.Context, audioPath string) string {
	return "generated transcript"
}

type fixture struct {
	t      *testing.T
	srv    *httptest.Server
	store  *store.Store
	client *http.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.New(t.TempDir(), logger)
	require.NoError(t, err)
	require.NoError(t, st.EnsureDemo())

	cfg := &config.Config{
		HTTP:    config.HTTPConfig{Port: 8080, Address: "127.0.0.1"},
		Storage: config.StorageConfig{Root: "unused", MaxUploadSizeMB: 8},
		Session: config.SessionConfig{
			Secret:          "0123456789abcdef",
			TTLHours:        1,
			TrainerUsername: testTrainerUser,
			TrainerPassword: testTrainerPass,
		},
	}

	m := metrics.NewMetricsWith(prometheus.NewRegistry())

	p := pipeline.New(pipeline.Deps{
		Store:       st,
		Normalizer:  fakeNormalizer{},
		Transcriber: fakeTranscriber{},
		Metrics:     m,
		Logger:      logger,
	})

	pool := pipeline.NewPool(2, 8, logger)
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Stop(ctx)
	})

	sessions, err := auth.NewSessions(cfg.Session.Secret, time.Hour)
	require.NoError(t, err)

	h := NewHTTPServer(cfg, logger, st, p, pool, sessions, m)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &fixture{
		t:      t,
		srv:    srv,
		store:  st,
		client: &http.Client{Jar: jar},
	}
}

func (f *fixture) login(user, pass string) *http.Response {
	f.t.Helper()

	resp, err := f.client.PostForm(f.srv.URL+"/login", url.Values{
		"username": {user},
		"password": {pass},
	})
	require.NoError(f.t, err)
	return resp
}

func (f *fixture) loginTrainer() {
	f.t.Helper()

	resp := f.login(testTrainerUser, testTrainerPass)
	defer resp.Body.Close()
	require.Equal(f.t, http.StatusOK, resp.StatusCode)
}

type clip struct {
	label      string
	transcript string
}

// submitModule builds the multipart upload and returns the module code
// from the 202 response
func (f *fixture) submitModule(name string, clips []clip, withTranscripts bool) string {
	f.t.Helper()

	resp := f.postModule(name, clips, withTranscripts)
	defer resp.Body.Close()
	require.Equal(f.t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(f.t, json.NewDecoder(resp.Body).Decode(&body))
	require.Regexp(f.t, "^[0-9a-f]{10}$", body["code"])
	return body["code"]
}

func (f *fixture) postModule(name string, clips []clip, withTranscripts bool) *http.Response {
	f.t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(f.t, mw.WriteField("name", name))
	for _, c := range clips {
		require.NoError(f.t, mw.WriteField("label", c.label))
		if withTranscripts {
			require.NoError(f.t, mw.WriteField("transcript", c.transcript))
		}
		fw, err := mw.CreateFormFile("audio", c.label+".mp3")
		require.NoError(f.t, err)
		_, err = fw.Write([]byte("raw-upload-bytes-" + c.label))
		require.NoError(f.t, err)
	}
	require.NoError(f.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/modules", &buf)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := f.client.Do(req)
	require.NoError(f.t, err)
	return resp
}

// waitComplete polls the status endpoint until the module leaves PROCESSING
func (f *fixture) waitComplete(code string) {
	f.t.Helper()

	require.Eventually(f.t, func() bool {
		resp, err := f.client.Get(f.srv.URL + "/api/modules/" + code + "/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		return strings.TrimSpace(string(body)) == string(store.StateComplete)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.login("trainer", "wrong")
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.login(testTrainerUser, testTrainerPass)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	found := false
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName && c.Value != "" {
			found = true
		}
	}
	require.True(t, found, "login must set a session cookie")
}

func TestCreateModuleRequiresAuth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.postModule("Engine Bay", []clip{{label: "valve"}}, false)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateModuleValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.loginTrainer()

	// Mismatched label count
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "Engine Bay"))
	require.NoError(t, mw.WriteField("label", "valve"))
	require.NoError(t, mw.WriteField("label", "pump"))
	fw, err := mw.CreateFormFile("audio", "valve.mp3")
	require.NoError(t, err)
	fw.Write([]byte("raw"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/modules", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Labels colliding after normalization
	resp = f.postModule("Engine Bay", []clip{{label: "oil filter"}, {label: "oil_filter"}}, false)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// No files at all
	resp = f.postModule("Engine Bay", nil, false)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitProcessAndFetch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.loginTrainer()

	code := f.submitModule("Engine Bay", []clip{
		{label: "valve", transcript: ""},
		{label: "oil filter", transcript: "manual note"},
	}, true)

	f.waitComplete(code)

	// Manifest lists both items in submission order; the empty supplied
	// transcript falls through to the transcriber.
	resp, err := f.client.Get(f.srv.URL + "/api/modules/" + code + "/manifest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []store.ManifestEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 2)
	require.Equal(t, "valve.wav", entries[0].File)
	require.Equal(t, "generated transcript", entries[0].Transcript)
	require.Equal(t, "oil_filter.wav", entries[1].File)
	require.Equal(t, "oil filter", entries[1].Name)
	require.Equal(t, "manual note", entries[1].Transcript)

	// Canonical audio is downloadable by label
	resp, err = f.client.Get(f.srv.URL + "/api/modules/" + code + "/audio?name=oil+filter")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, audio.ContentType, resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	want, err := audio.EncodePCM([]int16{1, 2, 3, 4}, audio.CanonicalSampleRate)
	require.NoError(t, err)
	require.Equal(t, want, body)

	// Bulk status map covers the new module
	resp, err = f.client.Get(f.srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var statuses map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statuses))
	require.Equal(t, string(store.StateComplete), statuses[code])

	// Module listing includes name and code
	resp, err = f.client.Get(f.srv.URL + "/api/modules")
	require.NoError(t, err)
	defer resp.Body.Close()
	var listing struct {
		Total   int            `json:"total"`
		Modules []store.Module `json:"modules"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Equal(t, 1, listing.Total)
	require.Equal(t, code, listing.Modules[0].Code)
	require.Equal(t, "Engine Bay", listing.Modules[0].Name)
}

func TestModuleStatusErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, err := f.client.Get(f.srv.URL + "/api/modules/NOT!VALID!/status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = f.client.Get(f.srv.URL + "/api/modules/0123456789/status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteModule(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.loginTrainer()

	code := f.submitModule("Engine Bay", []clip{{label: "valve"}}, false)
	f.waitComplete(code)

	// Someone else's module is off limits
	otherCode, err := f.store.CreateModule("someone-else", "Hydraulics")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/modules/"+otherCode, nil)
	require.NoError(t, err)
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Own module deletes cleanly
	req, err = http.NewRequest(http.MethodDelete, f.srv.URL+"/api/modules/"+code, nil)
	require.NoError(t, err)
	resp, err = f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Gone afterwards
	req, err = http.NewRequest(http.MethodDelete, f.srv.URL+"/api/modules/"+code, nil)
	require.NoError(t, err)
	resp, err = f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScanAudioLookup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.loginTrainer()

	code := f.submitModule("Engine Bay", []clip{{label: "valve"}}, false)
	f.waitComplete(code)

	// Explicit code wins
	resp, err := f.client.Get(f.srv.URL + "/audios?name=valve&code=" + code)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Selecting a module binds it to the session for codeless scans
	resp, err = f.client.PostForm(f.srv.URL+"/api/session/module", url.Values{"code": {code}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = f.client.Get(f.srv.URL + "/audios?name=valve")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The name parameter is mandatory
	resp, err = f.client.Get(f.srv.URL + "/audios")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScanAudioDemoFallback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Without a session or an explicit code the demo module is searched.
	// Its manifest is empty, so any label misses.
	resp, err := f.client.Get(f.srv.URL + "/audios?name=valve")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQRArchive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.loginTrainer()

	code := f.submitModule("Engine Bay", []clip{{label: "valve"}, {label: "oil filter"}}, false)
	f.waitComplete(code)

	resp, err := f.client.Get(f.srv.URL + "/api/modules/" + code + "/qr.zip")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/zip", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, reader.File, 2)

	// Another owner's archive is refused
	otherCode, err := f.store.CreateModule("someone-else", "Hydraulics")
	require.NoError(t, err)
	resp, err = f.client.Get(f.srv.URL + "/api/modules/" + otherCode + "/qr.zip")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, err := f.client.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "healthy", health["status"])
}

func TestLogoutClearsSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.loginTrainer()

	resp, err := f.client.Post(f.srv.URL+"/logout", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = f.client.Get(f.srv.URL + "/api/modules")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
