package simulator

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioopenapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/sprucehealth/audiointerview/clock"
	"github.com/sprucehealth/audiointerview/httpstub"
	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/telephony"
	"github.com/sprucehealth/audiointerview/voice"
)

const hook = "https://svc.test"

// server answers webhook URLs with fixed documents and records every form it receives.
func server(t *testing.T, docs map[string]*voice.Builder) *httpstub.MockWebhookClient {
	t.Helper()
	rendered := map[string][]byte{}
	for path, b := range docs {
		xml, err := voice.Render(b.Document())
		require.NoError(t, err)
		rendered[hook+path] = []byte(xml)
	}
	m := httpstub.NewMockWebhookClient()
	m.ResponseFunc = func(target string, _ url.Values) (int, []byte, http.Header, error) {
		if body, ok := rendered[target]; ok {
			return http.StatusOK, body, http.Header{}, nil
		}
		if target == hook+"/status" {
			return http.StatusNoContent, nil, http.Header{}, nil
		}
		return http.StatusNotFound, nil, http.Header{}, nil
	}
	return m
}

func placeCall(t *testing.T, sim *Simulator, path string) model.SID {
	t.Helper()
	params := &twilioopenapi.CreateCallParams{}
	params.SetTo("+15551234567")
	params.SetFrom("+15557654321")
	params.SetUrl(hook + path)
	params.SetStatusCallback(hook + "/status")
	params.SetStatusCallbackEvent([]string{"answered", "completed"})
	call, err := sim.CreateCall(params)
	require.NoError(t, err)
	require.NotNil(t, call.Sid)
	assert.Equal(t, "queued", *call.Status)
	return model.SID(*call.Sid)
}

func statusesPosted(m *httpstub.MockWebhookClient) []string {
	var out []string
	for _, c := range m.GetCallsTo(hook + "/status") {
		out = append(out, c.Form.Get("CallStatus"))
	}
	return out
}

func TestAnswerRunsScript(t *testing.T) {
	m := server(t, map[string]*voice.Builder{
		"/start": voice.NewBuilder().Gather(voice.Gather{NumDigits: 1, Timeout: 10 * time.Second, Action: hook + "/pressed",
			Children: []voice.Node{&voice.Play{URL: "https://cdn/q.mp3"}}}),
		"/pressed": voice.NewBuilder().Play("https://cdn/beep.mp3").
			Record(voice.Record{MaxLength: 60 * time.Second, Timeout: 5 * time.Second, Action: hook + "/recorded"}).
			Redirect(hook + "/recorded"),
		"/recorded": voice.NewBuilder().Pause(2 * time.Second).Hangup(),
	})
	clk := clock.NewManualClock(time.Time{})
	sim := New(WithWebhookClient(m), WithClock(clk))
	sid := placeCall(t, sim, "/start")

	start := clk.Now()
	call, err := sim.Answer(context.Background(), sid, Press("1"), Speak(90*time.Second, "#"))
	require.NoError(t, err)
	assert.Equal(t, model.CallCompleted, call.Status)
	assert.Equal(t, 3, call.Requests)
	assert.Equal(t, 62*time.Second, clk.Now().Sub(start), "recording is capped at maxLength")

	pressed := m.GetCallsTo(hook + "/pressed")
	require.Len(t, pressed, 1)
	assert.Equal(t, "1", pressed[0].Form.Get("Digits"))
	assert.Equal(t, string(sid), pressed[0].Form.Get("CallSid"))

	recorded := m.GetCallsTo(hook + "/recorded")
	require.Len(t, recorded, 1)
	assert.Equal(t, "#", recorded[0].Form.Get("Digits"))
	assert.Equal(t, "60", recorded[0].Form.Get("RecordingDuration"))
	assert.NotEmpty(t, recorded[0].Form.Get("RecordingUrl"))

	assert.Equal(t, []string{"in-progress", "completed"}, statusesPosted(m))
	assert.Len(t, call.Events("voice.play"), 2)
	assert.Len(t, call.Events("voice.hangup"), 1)
}

func TestSilenceFallsThroughGather(t *testing.T) {
	m := server(t, map[string]*voice.Builder{
		"/start": voice.NewBuilder().
			Gather(voice.Gather{NumDigits: 1, Timeout: 10 * time.Second, Action: hook + "/pressed"}).
			Record(voice.Record{Timeout: 5 * time.Second, Action: hook + "/recorded"}).
			Play("https://cdn/bye.mp3").
			Hangup(),
	})
	sim := New(WithWebhookClient(m))
	sid := placeCall(t, sim, "/start")

	call, err := sim.Answer(context.Background(), sid, Silence(), Silence())
	require.NoError(t, err)
	assert.Len(t, call.Events("gather.timeout"), 1)
	assert.Len(t, call.Events("record.empty"), 1)
	assert.Empty(t, m.GetCallsTo(hook+"/pressed"))
	assert.Empty(t, m.GetCallsTo(hook+"/recorded"))
	assert.Len(t, call.Events("voice.hangup"), 1)
}

func TestCallerHangsUp(t *testing.T) {
	m := server(t, map[string]*voice.Builder{
		"/start": voice.NewBuilder().Gather(voice.Gather{NumDigits: 1, Action: hook + "/pressed"}),
	})
	sim := New(WithWebhookClient(m))
	sid := placeCall(t, sim, "/start")

	call, err := sim.Answer(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, model.CallCompleted, call.Status)
	assert.Len(t, call.Events("caller.hangup"), 1)
	assert.Equal(t, []string{"in-progress", "completed"}, statusesPosted(m))
	assert.NotNil(t, call.EndedAt)

	_, err = sim.UpdateCall(string(sid), &twilioopenapi.UpdateCallParams{})
	assert.Equal(t, telephony.KindRejected, telephony.KindOf(telephony.Classify(err)))
}

func TestRedirectLoopIsBounded(t *testing.T) {
	m := server(t, map[string]*voice.Builder{
		"/loop": voice.NewBuilder().Redirect(hook + "/loop"),
	})
	sim := New(WithWebhookClient(m), WithMaxRequests(5))
	sid := placeCall(t, sim, "/loop")

	call, err := sim.Answer(context.Background(), sid)
	assert.ErrorIs(t, err, ErrTooManyRequests)
	assert.Equal(t, 6, call.Requests)
	assert.Len(t, call.Events("call.application_error"), 1)
	assert.Equal(t, model.CallCompleted, call.Status)
}

func TestFallbackURL(t *testing.T) {
	m := server(t, map[string]*voice.Builder{
		"/error": voice.NewBuilder().Play("https://cdn/error.mp3").Hangup(),
	})
	sim := New(WithWebhookClient(m))
	params := &twilioopenapi.CreateCallParams{}
	params.SetTo("+15551234567")
	params.SetFrom("+15557654321")
	params.SetUrl(hook + "/missing")
	params.SetFallbackUrl(hook + "/error")
	created, err := sim.CreateCall(params)
	require.NoError(t, err)

	call, err := sim.Answer(context.Background(), model.SID(*created.Sid))
	require.NoError(t, err)
	assert.Len(t, call.Events("call.fallback"), 1)
	fb := m.GetCallsTo(hook + "/error")
	require.Len(t, fb, 1)
	assert.Equal(t, "11200", fb[0].Form.Get("ErrorCode"))
}

func TestOperatorRedirectsLiveCall(t *testing.T) {
	m := server(t, map[string]*voice.Builder{
		"/start":     voice.NewBuilder().Gather(voice.Gather{NumDigits: 1, Action: hook + "/pressed"}),
		"/elsewhere": voice.NewBuilder().Say("moved").Hangup(),
	})
	sim := New(WithWebhookClient(m))
	sid := placeCall(t, sim, "/start")

	redirect := func() {
		params := &twilioopenapi.UpdateCallParams{}
		params.SetUrl(hook + "/elsewhere")
		_, err := sim.UpdateCall(string(sid), params)
		require.NoError(t, err)
	}
	call, err := sim.Answer(context.Background(), sid, Operator(func() {}), Operator(redirect))
	require.NoError(t, err)
	assert.Len(t, call.Events("call.redirected"), 1)
	assert.Len(t, call.Events("voice.say"), 1)
	assert.Empty(t, m.GetCallsTo(hook+"/pressed"))
}

func TestOperatorEndsLiveCall(t *testing.T) {
	m := server(t, map[string]*voice.Builder{
		"/start": voice.NewBuilder().Gather(voice.Gather{NumDigits: 1, Action: hook + "/pressed"}),
	})
	sim := New(WithWebhookClient(m))
	sid := placeCall(t, sim, "/start")

	end := func() {
		params := &twilioopenapi.UpdateCallParams{}
		params.SetStatus("completed")
		_, err := sim.UpdateCall(string(sid), params)
		require.NoError(t, err)
	}
	call, err := sim.Answer(context.Background(), sid, Operator(end), Press("1"))
	require.NoError(t, err)
	assert.Len(t, call.Events("call.hangup_requested"), 1)
	assert.Empty(t, m.GetCallsTo(hook+"/pressed"))
}

func TestReject(t *testing.T) {
	m := server(t, nil)
	sim := New(WithWebhookClient(m))
	sid := placeCall(t, sim, "/start")

	call, err := sim.Reject(context.Background(), sid, model.CallBusy)
	require.NoError(t, err)
	assert.Equal(t, model.CallBusy, call.Status)
	assert.Equal(t, []string{"busy"}, statusesPosted(m))

	_, err = sim.Answer(context.Background(), sid)
	assert.Error(t, err)
	_, err = sim.Reject(context.Background(), sid, model.CallCompleted)
	assert.Error(t, err)
}

func TestDialInbound(t *testing.T) {
	m := server(t, map[string]*voice.Builder{
		"/incoming": voice.NewBuilder().Gather(voice.Gather{FinishOnKey: "#", Action: hook + "/pin"}),
		"/pin":      voice.NewBuilder().Hangup(),
	})
	sim := New(WithWebhookClient(m))
	call, err := sim.Dial(context.Background(), "+15550000001", "+15550000002", hook+"/incoming", Press("123456"))
	require.NoError(t, err)
	assert.Equal(t, Inbound, call.Direction)
	pin := m.GetCallsTo(hook + "/pin")
	require.Len(t, pin, 1)
	assert.Equal(t, "123456", pin[0].Form.Get("Digits"))
	assert.Equal(t, "inbound", pin[0].Form.Get("Direction"))
	assert.Len(t, sim.Calls(), 1)
}

func TestCreateCallValidation(t *testing.T) {
	sim := New(WithWebhookClient(httpstub.NewMockWebhookClient()))
	params := &twilioopenapi.CreateCallParams{}
	params.SetTo("555")
	params.SetFrom("+15557654321")
	params.SetUrl(hook + "/start")
	_, err := sim.CreateCall(params)
	assert.Equal(t, telephony.KindInvalidNumber, telephony.KindOf(telephony.Classify(err)))

	_, err = sim.UpdateCall("CAnope", &twilioopenapi.UpdateCallParams{})
	assert.Equal(t, telephony.KindNotFound, telephony.KindOf(telephony.Classify(err)))
}
