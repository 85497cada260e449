package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/warroom/internal/crew"
)

func sampleResult() *crew.RunResult {
	return &crew.RunResult{
		RunID: "run-1",
		Mode:  "normal",
		Items: []crew.ItemReport{
			{Key: "triage", State: crew.StateCompleted},
			{Key: "db_check", State: crew.StateFailed},
			{Key: "commander", State: crew.StateBlocked},
		},
	}
}

func TestReportText(t *testing.T) {
	r := NewReport("Drill nightly", sampleResult(), nil)
	assert.Equal(t, "incomplete", r.Status())

	text := r.Text()
	assert.True(t, strings.HasPrefix(text, "Drill nightly: incomplete (normal mode)"))
	assert.Contains(t, text, "Failed: db_check")
	assert.Contains(t, text, "Blocked: commander")

	failed := NewReport("Drill", nil, errors.New("no backend"))
	assert.Equal(t, "failed", failed.Status())
	assert.Contains(t, failed.Text(), "Error: no backend")
}

func TestSlackWebhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := sampleResult()
	res.Complete = true
	res.Items = nil
	res.FinalOutput = "Status update: resolved"

	err := NewSlack(srv.URL).Notify(context.Background(), NewReport("Drill nightly", res, nil))
	require.NoError(t, err)

	assert.Equal(t, "Drill nightly", got["text"])
	atts := got["attachments"].([]any)
	require.Len(t, atts, 1)
	att := atts[0].(map[string]any)
	assert.Equal(t, "good", att["color"])
	assert.Equal(t, "Status update: resolved", att["text"])
}

func TestSlackWebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewSlack(srv.URL).Notify(context.Background(), NewReport("x", sampleResult(), nil))
	assert.Error(t, err)
}

type recordingNotifier struct {
	got []Report
	err error
}

func (n *recordingNotifier) Notify(_ context.Context, r Report) error {
	n.got = append(n.got, r)
	return n.err
}

func TestMulti(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("down")}

	err := Multi{a, nil, b}.Notify(context.Background(), Report{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}
