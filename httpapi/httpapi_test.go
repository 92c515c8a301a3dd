package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprucehealth/audiointerview/clock"
	"github.com/sprucehealth/audiointerview/config"
	"github.com/sprucehealth/audiointerview/flow"
	"github.com/sprucehealth/audiointerview/httpstub"
	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/notify"
	"github.com/sprucehealth/audiointerview/pin"
	"github.com/sprucehealth/audiointerview/simulator"
	"github.com/sprucehealth/audiointerview/store"
	"github.com/sprucehealth/audiointerview/telephony"
)

const (
	authToken   = "test-auth-token"
	serviceLine = "+15550001111"
	candidate   = "+15551234567"
)

type harness struct {
	srv       *httptest.Server
	sim       *simulator.Simulator
	store     *store.SQLite
	notes     *notify.Recorder
	completed atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	clk := clock.NewManualClock(time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC))
	st, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "http.db"), store.DefaultConfig(), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.PutStep(ctx, model.Step{ID: "s1", Name: "Screening", Language: "en", CountryCode: "US"}))
	for _, p := range []model.AudioPrompt{
		{ID: "A", Sequence: 1, URL: "https://cdn.test/A.mp3", RecordAfterPrompt: true},
		{ID: "B", Sequence: 2, URL: "https://cdn.test/B.mp3", RecordAfterPrompt: true},
	} {
		p.StepID = "s1"
		require.NoError(t, st.PutPrompt(ctx, p))
	}
	require.NoError(t, st.CreateProgression(ctx, model.StepProgression{ID: "sp1", StepID: "s1", AttemptID: "att1"}))

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	h := &harness{
		srv:   srv,
		store: st,
		notes: notify.NewRecorder(),
		sim: simulator.New(
			simulator.WithClock(clock.NewManualClock(time.Time{})),
			simulator.WithWebhookClient(httpstub.NewDefaultWebhookClient(5*time.Second, httpstub.WithSigningToken(authToken))),
		),
	}
	ctl := flow.NewController(st, flow.NewRoutes(srv.URL), flow.NewStaticResolver(config.Default()),
		flow.WithClock(clk),
		flow.WithNotifier(h.notes),
		flow.WithProvider(telephony.NewTwilioWithAPI(h.sim), serviceLine, false),
		flow.WithPINRegistry(pin.NewRedisRegistry(rc, 6, 30*time.Minute), 2),
		flow.WithCompleter(flow.CompleterFunc(func(context.Context, model.StepProgression) error {
			h.completed.Add(1)
			return nil
		})),
	)
	handler = NewServer(ctl, Options{
		PublicURL:          srv.URL,
		AuthToken:          authToken,
		ValidateSignatures: true,
		HealthCheck:        st.Ping,
	}).Handler()
	return h
}

func (h *harness) postJSON(t *testing.T, path string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(h.srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func (h *harness) connect(t *testing.T, reconnect bool) model.SID {
	t.Helper()
	var res flow.ConnectResult
	status := h.postJSON(t, "/api/step_progressions/sp1/connect", connectBody{Phone: candidate, Reconnect: reconnect}, &res)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, res.CallSID)
	return res.CallSID
}

func (h *harness) progression(t *testing.T) *model.StepProgression {
	t.Helper()
	p, err := h.store.GetProgression(context.Background(), "sp1")
	require.NoError(t, err)
	return p
}

func (h *harness) interview(t *testing.T) *model.AudioInterview {
	t.Helper()
	i, err := h.store.GetInterview(context.Background(), "sp1")
	require.NoError(t, err)
	return i
}

func (h *harness) liveRecordings(t *testing.T) []model.AudioRecording {
	t.Helper()
	recs, err := h.store.ListRecordings(context.Background(), "sp1", false)
	require.NoError(t, err)
	return recs
}

var fullInterview = []simulator.Input{
	simulator.Press("1"),                 // verification
	simulator.Press("1"),                 // intro
	simulator.Speak(20*time.Second, "1"), // answer A
	simulator.Speak(30*time.Second, "#"), // answer B
}

func TestPhoneInterview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ch := notify.Channel("sp1")

	sid := h.connect(t, false)
	assert.Equal(t, sid, h.progression(t).CallSID)
	assert.NotNil(t, h.progression(t).StartedAt)

	call, err := h.sim.Answer(ctx, sid, fullInterview...)
	require.NoError(t, err)
	assert.Equal(t, model.CallCompleted, call.Status)
	assert.Empty(t, call.Events("call.application_error"))

	p := h.progression(t)
	require.NotNil(t, p.CompletedAt)
	assert.EqualValues(t, 1, h.completed.Load())

	durations := map[string]int{}
	for _, r := range h.liveRecordings(t) {
		durations[r.PromptID] = r.Duration
	}
	assert.Equal(t, map[string]int{"A": 20, "B": 30}, durations)

	i := h.interview(t)
	assert.True(t, i.DebugHasVerified)
	assert.Equal(t, "phone", i.DebugConnectionType)
	assert.Equal(t, model.CallCompleted, i.FinalStatus)
	assert.Zero(t, i.DebugDisconnectCount)

	assert.Equal(t, 1, h.notes.Count(ch, "completed"))
	assert.Equal(t, 1, h.notes.Count(ch, "ended"))
	assert.Zero(t, h.notes.Count(ch, "disconnected"))

	// The candidate page asks again after the fact: nothing new is placed.
	var res flow.ConnectResult
	require.Equal(t, http.StatusOK, h.postJSON(t, "/api/step_progressions/sp1/connect", connectBody{Phone: candidate}, &res))
	assert.True(t, res.Completed)
	assert.Len(t, h.sim.Calls(), 1)

	var body errorBody
	assert.Equal(t, http.StatusConflict, h.postJSON(t, "/api/step_progressions/sp1/update_call",
		updateCallBody{CallSID: string(sid), Action: string(flow.CallActionReplayPrompt)}, &body))
	assert.Equal(t, "already_completed", body.Error)
}

func TestDisconnectThenReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ch := notify.Channel("sp1")

	first := h.connect(t, false)
	_, err := h.sim.Answer(ctx, first, simulator.Press("1"), simulator.Press("1"), simulator.HangUp())
	require.NoError(t, err)
	assert.Equal(t, 1, h.interview(t).DebugDisconnectCount)
	assert.Equal(t, 1, h.notes.Count(ch, "disconnected"))
	assert.Equal(t, "A", h.interview(t).CurrentPromptID)

	// The old call is already over, so the redirect fails and nothing is
	// left waiting to be absorbed.
	second := h.connect(t, true)
	assert.NotEqual(t, first, second)
	assert.False(t, h.interview(t).SkipDisconnect)

	call, err := h.sim.Answer(ctx, second,
		simulator.Press("1"), // verification
		simulator.Press("1"), // resume at A
		simulator.Speak(20*time.Second, "1"),
		simulator.Speak(30*time.Second, "#"),
	)
	require.NoError(t, err)
	assert.Contains(t, call.URL, "reconnect=true")
	assert.Equal(t, 1, h.notes.Count(ch, "reconnected"))

	require.NotNil(t, h.progression(t).CompletedAt)
	assert.Equal(t, second, h.progression(t).CallSID)
	assert.Len(t, h.liveRecordings(t), 2)
	assert.Equal(t, 1, h.interview(t).DebugDisconnectCount)
	assert.Equal(t, 1, h.notes.Count(ch, "ended"))
}

func TestBusyCandidate(t *testing.T) {
	h := newHarness(t)
	sid := h.connect(t, false)

	_, err := h.sim.Reject(context.Background(), sid, model.CallBusy)
	require.NoError(t, err)

	i := h.interview(t)
	assert.Equal(t, 1, i.DebugFailedToConnectCount)
	assert.Zero(t, i.DebugDisconnectCount)
	assert.Equal(t, 1, h.notes.Count(notify.Channel("sp1"), "disconnected"))
}

func TestOperatorEndsCall(t *testing.T) {
	h := newHarness(t)
	sid := h.connect(t, false)

	var update flow.UpdateResult
	var status int
	call, err := h.sim.Answer(context.Background(), sid,
		simulator.Press("1"),
		simulator.Press("1"),
		simulator.Operator(func() {
			status = h.postJSON(t, "/api/step_progressions/sp1/update_call",
				updateCallBody{CallSID: string(sid), Action: string(flow.CallActionEndCall)}, &update)
		}),
	)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, h.srv.URL+"/voice/sp1/end_call", update.RedirectURL)

	redirected := call.Events("call.redirected")
	require.Len(t, redirected, 1)
	assert.Equal(t, update.RedirectURL, redirected[0].Detail["url"])
	assert.Nil(t, h.progression(t).CompletedAt)
	assert.Empty(t, h.liveRecordings(t))
}

func TestUpdateCallErrors(t *testing.T) {
	h := newHarness(t)
	h.connect(t, false)

	var body errorBody
	assert.Equal(t, http.StatusConflict, h.postJSON(t, "/api/step_progressions/sp1/update_call",
		updateCallBody{CallSID: "CAother", Action: "advance"}, &body))
	assert.Equal(t, "call_mismatch", body.Error)

	assert.Equal(t, http.StatusNotFound, h.postJSON(t, "/api/step_progressions/nope/update_call",
		updateCallBody{CallSID: "CAother", Action: "advance"}, &body))

	res, err := http.Post(h.srv.URL+"/api/step_progressions/sp1/update_call", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestConnectErrors(t *testing.T) {
	h := newHarness(t)

	var body errorBody
	assert.Equal(t, http.StatusUnprocessableEntity,
		h.postJSON(t, "/api/step_progressions/sp1/connect", connectBody{Phone: "555"}, &body))
	assert.Equal(t, string(telephony.KindInvalidNumber), body.Error)

	assert.Equal(t, http.StatusBadRequest,
		h.postJSON(t, "/api/step_progressions/sp1/connect", connectBody{}, &body))
	assert.Equal(t, "invalid_request", body.Error)

	assert.Equal(t, http.StatusNotFound,
		h.postJSON(t, "/api/step_progressions/nope/connect", connectBody{Phone: candidate}, &body))
	assert.Empty(t, h.sim.Calls())
}

func TestCallIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := http.Get(h.srv.URL + "/api/step_progressions/sp1/initial_data")
	require.NoError(t, err)
	var data flow.InitialData
	require.NoError(t, json.NewDecoder(res.Body).Decode(&data))
	res.Body.Close()
	require.Len(t, data.PIN, 6)
	assert.Equal(t, "en-US", data.Locale)
	assert.Equal(t, 2, data.PromptCount)

	wrong := "000000"
	if data.PIN == wrong {
		wrong = "111111"
	}
	call, err := h.sim.Dial(ctx, candidate, serviceLine, h.srv.URL+"/voice/incoming",
		simulator.Press(wrong),
		simulator.Press(data.PIN),
		simulator.Press("1"), // verification
	)
	require.NoError(t, err)
	assert.Equal(t, simulator.Inbound, call.Direction)

	assert.Equal(t, 1, h.notes.Count(notify.Channel("sp1"), "user_called_in"))
	assert.Equal(t, call.SID, h.progression(t).CallSID)
	i := h.interview(t)
	assert.True(t, i.DebugHasVerified)
	assert.Equal(t, "inbound", i.DebugConnectionType)

	// PINs are single use.
	again, err := h.sim.Dial(ctx, candidate, serviceLine, h.srv.URL+"/voice/incoming",
		simulator.Press(data.PIN), simulator.Press(data.PIN))
	require.NoError(t, err)
	assert.Len(t, again.Events("voice.hangup"), 1)
	assert.Equal(t, 1, h.notes.Count(notify.Channel("sp1"), "user_called_in"))
}

func TestSignatureRequired(t *testing.T) {
	h := newHarness(t)
	target := h.srv.URL + "/voice/sp1/advance"
	form := url.Values{"CallSid": {"CA123"}}

	post := func(sig string) int {
		req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if sig != "" {
			req.Header.Set(httpstub.SignatureHeader, sig)
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		return res.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, post(""))
	assert.Equal(t, http.StatusForbidden, post("bm90IGEgc2lnbmF0dXJl"))
	assert.Equal(t, http.StatusForbidden, post(httpstub.Sign("other-token", target, form)))
	assert.Equal(t, http.StatusOK, post(httpstub.Sign(authToken, target, form)))

	target = h.srv.URL + "/voice/nope/advance"
	assert.Equal(t, http.StatusBadRequest, post(httpstub.Sign(authToken, target, form)))
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	res, err := http.Get(h.srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.NotEmpty(t, res.Header.Get("X-Request-ID"))

	res, err = http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "audio_interview_http_request_duration_seconds")
}
