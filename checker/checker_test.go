package checker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/phonecheck/health"
	"github.com/opd-ai/phonecheck/interfaces"
	"github.com/opd-ai/phonecheck/sip"
	"github.com/opd-ai/phonecheck/speech"
	simtest "github.com/opd-ai/phonecheck/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPlacer returns one prepared result per call and repeats the last.
type scriptedPlacer struct {
	mu      sync.Mutex
	results []*sip.CallResult
	calls   int
}

func (p *scriptedPlacer) PlaceCall(ctx context.Context) *sip.CallResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	p.calls++
	return p.results[i]
}

func (p *scriptedPlacer) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func answered(n int) *sip.CallResult {
	return &sip.CallResult{
		CallID:        "abc",
		Connected:     true,
		AudioReceived: true,
		Samples:       make([]float32, n),
		SIPStatus:     200,
	}
}

func timedOut() *sip.CallResult {
	return &sip.CallResult{Err: &sip.Error{Kind: sip.KindTransactionTimeout, Err: sip.ErrTransactionTimeout}}
}

func rejected(status int, desc string) *sip.CallResult {
	return &sip.CallResult{
		SIPStatus: status,
		Err:       &sip.Error{Kind: sip.KindCallRejected, Status: status, Err: errors.New(desc)},
	}
}

type fixture struct {
	placer      *scriptedPlacer
	transcriber *simtest.SimulatedTranscriber
	alerter     *simtest.SimulatedAlerter
	metrics     *health.Metrics
	checker     *Checker
}

func newFixture(t *testing.T, cfg Config, results ...*sip.CallResult) *fixture {
	t.Helper()
	f := &fixture{
		placer:      &scriptedPlacer{results: results},
		transcriber: simtest.NewSimulatedTranscriber("Thank you for calling Acme."),
		alerter:     simtest.NewSimulatedAlerter(),
		metrics:     health.NewMetrics(),
	}
	placerFn := func(context.Context) (interfaces.ICallPlacer, error) { return f.placer, nil }

	c, err := New(cfg, placerFn, f.transcriber, speech.NewPhraseMatcher(), f.alerter, f.metrics)
	require.NoError(t, err)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	f.checker = c
	return f
}

func TestRunOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		results    []*sip.CallResult
		transcript string
		transErr   error
		wantStatus Status
		wantAlert  string
		attempts   int
	}{
		{
			name:       "greeting detected",
			results:    []*sip.CallResult{answered(16000)},
			wantStatus: StatusPassed,
			attempts:   1,
		},
		{
			name:       "greeting missing",
			results:    []*sip.CallResult{answered(16000)},
			transcript: "The number you have dialed is not in service",
			wantStatus: StatusFailed,
			wantAlert:  `PhoneCheck ALERT: Expected greeting not detected. Heard: "the number you have dialed is not in service"`,
			attempts:   1,
		},
		{
			name:       "busy not retried",
			results:    []*sip.CallResult{rejected(486, "486: Busy Here")},
			wantStatus: StatusFailed,
			wantAlert:  "PhoneCheck ALERT: Call did not connect - 486: Busy Here",
			attempts:   1,
		},
		{
			name:       "timeout retried then succeeds",
			results:    []*sip.CallResult{timedOut(), answered(16000)},
			wantStatus: StatusPassed,
			attempts:   2,
		},
		{
			name:       "timeout twice",
			results:    []*sip.CallResult{timedOut(), timedOut()},
			wantStatus: StatusFailed,
			wantAlert:  "PhoneCheck ALERT: Call did not connect - No response from server: transaction timeout",
			attempts:   2,
		},
		{
			name:       "connected without audio",
			results:    []*sip.CallResult{{Connected: true, SIPStatus: 200}},
			wantStatus: StatusFailed,
			wantAlert:  "PhoneCheck ALERT: Call connected but no audio received",
			attempts:   1,
		},
		{
			name:       "transcriber failure",
			results:    []*sip.CallResult{answered(16000)},
			transErr:   errors.New("model not loaded"),
			wantStatus: StatusFailed,
			wantAlert:  "PhoneCheck ALERT: Speech recognition failed - model not loaded",
			attempts:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{Target: "5551234567"}, tt.results...)
			if tt.transcript != "" {
				f.transcriber.SetTranscript(tt.transcript)
			}
			f.transcriber.SetError(tt.transErr)

			out := f.checker.Run(context.Background())

			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.attempts, out.Attempts)
			assert.Equal(t, tt.attempts, f.placer.Calls())
			assert.NotEmpty(t, out.RunID)
			assert.Equal(t, tt.wantAlert, out.Alert)

			if tt.wantAlert == "" {
				assert.Empty(t, f.alerter.Alerts())
				assert.Equal(t, uint64(1), f.metrics.Status().ChecksSuccessful)
				return
			}
			assert.True(t, out.AlertSent)
			assert.Equal(t, []string{tt.wantAlert}, f.alerter.Delivered())
			assert.Equal(t, uint64(1), f.metrics.Status().ChecksFailed)
		})
	}
}

func TestAlertDeduplication(t *testing.T) {
	f := newFixture(t, Config{}, answered(16000))
	f.transcriber.SetTranscript("goodbye")

	first := f.checker.Run(context.Background())
	second := f.checker.Run(context.Background())

	assert.True(t, first.AlertSent)
	assert.False(t, second.AlertSent)
	assert.Equal(t, StatusFailed, second.Status)
	assert.Len(t, f.alerter.Delivered(), 1)

	// Recovery re-arms alerting.
	f.transcriber.SetTranscript("thank you for calling")
	assert.Equal(t, StatusPassed, f.checker.Run(context.Background()).Status)

	f.transcriber.SetTranscript("goodbye")
	third := f.checker.Run(context.Background())
	assert.True(t, third.AlertSent)
	assert.Len(t, f.alerter.Delivered(), 2)
	assert.Equal(t, uint64(3), f.metrics.Status().ChecksFailed)
}

func TestAlertDeliveryFailure(t *testing.T) {
	f := newFixture(t, Config{}, rejected(503, "503: Service Unavailable"))
	f.alerter.FailNext(1, errors.New("sms down"))

	out := f.checker.Run(context.Background())
	assert.Equal(t, StatusFailed, out.Status)
	assert.False(t, out.AlertSent)
	assert.Len(t, f.alerter.Alerts(), 1)
}

func TestPlacerError(t *testing.T) {
	alerter := simtest.NewSimulatedAlerter()
	placerFn := func(context.Context) (interfaces.ICallPlacer, error) {
		return nil, errors.New("sip resolution: no such host")
	}
	c, err := New(Config{}, placerFn, simtest.NewSimulatedTranscriber(""), speech.NewPhraseMatcher(), alerter, nil)
	require.NoError(t, err)

	out := c.Run(context.Background())
	assert.Equal(t, StatusFailed, out.Status)
	assert.Zero(t, out.Attempts)
	assert.Equal(t, []string{"PhoneCheck ERROR: sip resolution: no such host"}, alerter.Delivered())
}

func TestCancelledCallRecordsNothing(t *testing.T) {
	res := answered(8000)
	res.Err = &sip.Error{Kind: sip.KindCancelled, Err: sip.ErrCallCancelled}
	f := newFixture(t, Config{}, res)

	out := f.checker.Run(context.Background())
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Empty(t, f.alerter.Alerts())
	count, _ := f.transcriber.Calls()
	assert.Zero(t, count)
	st := f.metrics.Status()
	assert.Zero(t, st.ChecksFailed+st.ChecksSuccessful)
}

func TestCancelledContextDuringRetryDelay(t *testing.T) {
	f := newFixture(t, Config{}, timedOut(), answered(16000))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.checker.Run(ctx)
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Equal(t, 1, out.Attempts)
}

func TestSaveAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	f := newFixture(t, Config{SaveAudioPath: path, Normalize: true}, answered(1600))

	out := f.checker.Run(context.Background())
	require.Equal(t, StatusPassed, out.Status)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(44+2*1600), info.Size())
	_, last := f.transcriber.Calls()
	assert.Equal(t, 1600, last)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrMissingCollaborator)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "passed", StatusPassed.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "cancelled", StatusCancelled.String())
	assert.Equal(t, "unknown", Status(42).String())
}
