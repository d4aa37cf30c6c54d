package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/internal/logger"
	"signalbot/internal/strategy"
)

type fakeNotifier struct {
	mu    sync.Mutex
	fails int
	calls int
	got   []Alert
}

func (f *fakeNotifier) Send(_ context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return errors.New("boom")
	}
	f.got = append(f.got, a)
	return nil
}

func TestTelegram_PostsMarkdown(t *testing.T) {
	var body map[string]interface{}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier("TOKEN", "42", logger.Nop())
	tg.baseURL = srv.URL

	err := tg.Send(context.Background(), Alert{Level: AlertCritical, Title: "BUY BTC-USD", Message: "x.y"})
	require.NoError(t, err)
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "MarkdownV2", body["parse_mode"])
	assert.Contains(t, body["text"], `BUY BTC\-USD`)
	assert.Contains(t, body["text"], `x\.y`)
}

func TestTelegram_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier("bad", "1", logger.Nop())
	tg.baseURL = srv.URL
	assert.Error(t, tg.Send(context.Background(), Alert{Title: "t"}))
}

func TestWebhook_Payload(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	err := NewWebhookNotifier(srv.URL, logger.Nop()).Send(context.Background(),
		Alert{Level: AlertWarning, Title: "t", Message: "m", At: at})
	require.NoError(t, err)
	assert.Equal(t, "WARNING", body["level"])
	assert.Equal(t, "t", body["title"])
	assert.Equal(t, "m", body["message"])
	assert.Equal(t, "2024-01-02T03:04:05Z", body["ts"])
}

func TestWebhook_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	assert.Error(t, NewWebhookNotifier(srv.URL, logger.Nop()).Send(context.Background(), Alert{}))
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { w.closed = true; return nil }

func TestKafka_PublishesKeyedJSON(t *testing.T) {
	fw := &fakeWriter{}
	k := &KafkaNotifier{writer: fw, topic: "alerts", key: []byte("BTC-USD")}

	require.NoError(t, k.Send(context.Background(), Alert{Level: AlertInfo, Title: "hi"}))
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, "BTC-USD", string(fw.msgs[0].Key))

	var a Alert
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &a))
	assert.Equal(t, "hi", a.Title)
	assert.False(t, a.At.IsZero())

	require.NoError(t, k.Close())
	assert.True(t, fw.closed)
}

func TestKafka_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaNotifier(KafkaConfig{Topic: "x"}, "BTC")
	assert.Error(t, err)
}

func TestKafka_WriteError(t *testing.T) {
	k := &KafkaNotifier{writer: &fakeWriter{err: errors.New("down")}, topic: "alerts"}
	assert.Error(t, k.Send(context.Background(), Alert{}))
}

func TestMulti_AnySuccessWins(t *testing.T) {
	bad := &fakeNotifier{fails: 100}
	good := &fakeNotifier{}
	m := NewMulti(bad, nil, good)

	require.NoError(t, m.Send(context.Background(), Alert{Title: "x"}))
	assert.Len(t, good.got, 1)
	assert.Equal(t, 1, bad.calls)
}

func TestMulti_AllFail(t *testing.T) {
	m := NewMulti(&fakeNotifier{fails: 1}, &fakeNotifier{fails: 1})
	err := m.Send(context.Background(), Alert{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 backends failed")

	assert.Error(t, NewMulti().Send(context.Background(), Alert{}))
}

func TestRetrier_RetriesThenSucceeds(t *testing.T) {
	f := &fakeNotifier{fails: 2}
	r := NewRetrier(f, 3, time.Millisecond, logger.Nop())

	assert.True(t, r.Alert(context.Background(), Alert{Title: "x"}))
	assert.Equal(t, 3, f.calls)
	require.Len(t, f.got, 1)
	assert.False(t, f.got[0].At.IsZero())
}

func TestRetrier_GivesUp(t *testing.T) {
	f := &fakeNotifier{fails: 10}
	r := NewRetrier(f, 3, time.Millisecond, logger.Nop())

	assert.False(t, r.Alert(context.Background(), Alert{}))
	assert.Equal(t, 3, f.calls)
	assert.Error(t, r.Send(context.Background(), Alert{}))
}

func TestRetrier_StopsOnCancel(t *testing.T) {
	f := &fakeNotifier{fails: 10}
	r := NewRetrier(f, 3, time.Hour, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, r.Alert(ctx, Alert{}))
	assert.Equal(t, 1, f.calls)
}

func TestLogNotifier_NeverFails(t *testing.T) {
	n := NewLogNotifier(logger.Nop())
	for _, lvl := range []AlertLevel{AlertInfo, AlertWarning, AlertCritical} {
		assert.NoError(t, n.Send(context.Background(), Alert{Level: lvl}))
	}
}

func TestSignalAlert_Format(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("X", 3600))
	a := SignalAlert("BTC-USD", strategy.Signal{Kind: strategy.KindBuy, Strength: 0.84}, 101.5, at)

	assert.Equal(t, AlertInfo, a.Level)
	assert.Equal(t, "BUY BTC-USD", a.Title)
	assert.Contains(t, a.Message, "Strength: 84.0%")
	assert.Contains(t, a.Message, "2024-03-01 11:30:00 UTC")
	assert.True(t, strings.Contains(a.Message, "Price: 101.5000"))
}

func TestRetrainAlert(t *testing.T) {
	ok := RetrainAlert("ETH", 0.55, 1000, nil, time.Time{})
	assert.Equal(t, AlertInfo, ok.Level)
	assert.Contains(t, ok.Message, "55.00%")

	bad := RetrainAlert("ETH", 0, 0, errors.New("no data"), time.Time{})
	assert.Equal(t, AlertWarning, bad.Level)
	assert.Contains(t, bad.Message, "Previous model kept")
}

func TestDispatcher_RetriesEachRemoteDespiteLocalLog(t *testing.T) {
	remote := &fakeNotifier{fails: 100}
	d := NewDispatcher(NewLogNotifier(logger.Nop()), []Notifier{remote}, 3, time.Millisecond, logger.Nop())

	assert.False(t, d.Alert(context.Background(), Alert{Title: "BUY BTC-USD"}))
	assert.Equal(t, 3, remote.calls)
	assert.Empty(t, remote.got)
}

func TestDispatcher_RemoteRecoversWithinAttempts(t *testing.T) {
	remote := &fakeNotifier{fails: 2}
	d := NewDispatcher(NewLogNotifier(logger.Nop()), []Notifier{remote}, 3, time.Millisecond, logger.Nop())

	assert.True(t, d.Alert(context.Background(), Alert{Title: "x"}))
	assert.Equal(t, 3, remote.calls)
	require.Len(t, remote.got, 1)
	assert.False(t, remote.got[0].At.IsZero())
}

func TestDispatcher_OneHealthyRemoteIsEnough(t *testing.T) {
	bad := &fakeNotifier{fails: 100}
	good := &fakeNotifier{}
	d := NewDispatcher(nil, []Notifier{bad, nil, good}, 2, time.Millisecond, logger.Nop())

	assert.True(t, d.Alert(context.Background(), Alert{Title: "x"}))
	assert.Equal(t, 2, bad.calls)
	assert.Len(t, good.got, 1)
}

func TestDispatcher_LocalOnly(t *testing.T) {
	local := &fakeNotifier{}
	d := NewDispatcher(local, nil, 3, time.Millisecond, logger.Nop())
	assert.True(t, d.Alert(context.Background(), Alert{Title: "x"}))
	assert.Len(t, local.got, 1)

	failing := NewDispatcher(&fakeNotifier{fails: 1}, nil, 3, time.Millisecond, logger.Nop())
	assert.False(t, failing.Alert(context.Background(), Alert{}))
}
