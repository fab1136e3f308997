package check

import (
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tionis/tallercheck/internal/session"
)

// fakeClock advances by step on every reading.
func fakeClock(step time.Duration) func() time.Time {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func TestRecorderSequencesAndNotifies(t *testing.T) {
	var seen []string
	rec := NewRecorder(func(r Result) { seen = append(seen, "a:"+r.Name()) })
	rec.Listen(func(r Result) { seen = append(seen, "b:"+r.Name()) })

	first := rec.Begin("auth", "login").Pass("ok")
	second := rec.Begin("crud/clientes", "store").Fail("status %d", 500)
	rec.Begin("crud/clientes", "destroy").Skip("previous step failed")

	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, 2, second.Seq)
	assert.Equal(t, "status 500", second.Detail)
	assert.Equal(t, []string{
		"a:auth/login", "b:auth/login",
		"a:crud/clientes/store", "b:crud/clientes/store",
		"a:crud/clientes/destroy", "b:crud/clientes/destroy",
	}, seen)

	passed, failed, skipped := rec.Counts()
	assert.Equal(t, [3]int{1, 1, 1}, [3]int{passed, failed, skipped})
	assert.Len(t, rec.Results(), 3)
}

func TestResultsIsASnapshot(t *testing.T) {
	rec := NewRecorder()
	rec.Begin("auth", "login").Pass("ok")

	snapshot := rec.Results()
	rec.Begin("auth", "logout").Pass("ok")
	snapshot[0].Detail = "changed"

	assert.Len(t, snapshot, 1)
	assert.Equal(t, "ok", rec.Results()[0].Detail)
}

func TestStepTimingAndResponse(t *testing.T) {
	rec := NewRecorder()
	rec.now = fakeClock(250 * time.Millisecond)

	resp := &session.Response{
		Method: http.MethodPost,
		URL:    &url.URL{Scheme: "http", Host: "taller.local", Path: "/clientes"},
		Status: http.StatusFound,
	}
	res := rec.Begin("crud/clientes", "store").With(resp).Pass("redirected")

	assert.Equal(t, 250*time.Millisecond, res.Duration)
	assert.Equal(t, http.MethodPost, res.Method)
	assert.Equal(t, "/clientes", res.Path)
	assert.Equal(t, http.StatusFound, res.Status)
	assert.False(t, res.RecordedAt.IsZero())
}

func TestCheckAndExpectStatus(t *testing.T) {
	rec := NewRecorder()
	resp := &session.Response{Method: http.MethodGet, URL: &url.URL{Path: "/reportes"}, Status: http.StatusOK}

	assert.True(t, rec.Begin("reportes", "index").ExpectStatus(resp, http.StatusOK))
	assert.False(t, rec.Begin("reportes", "pdf").ExpectStatus(resp, http.StatusCreated, http.StatusAccepted))
	assert.True(t, rec.Begin("reportes", "title").Check(true, "title %q", "Reportes"))
	assert.False(t, rec.Begin("reportes", "table").Check(false, "no table"))

	results := rec.Results()
	require.Len(t, results, 4)
	assert.Equal(t, Pass, results[0].Outcome)
	assert.Equal(t, "status 200", results[0].Detail)
	assert.Equal(t, Fail, results[1].Outcome)
	assert.Equal(t, "status 200, expected one of [201 202]", results[1].Detail)
	assert.Equal(t, "/reportes", results[1].Path)
	assert.Equal(t, `title "Reportes"`, results[2].Detail)
	assert.Equal(t, Fail, results[3].Outcome)
}

func TestTally(t *testing.T) {
	passed, failed, skipped := Tally([]Result{
		{Outcome: Pass}, {Outcome: Pass}, {Outcome: Fail}, {Outcome: Skip}, {Outcome: "unknown"},
	})
	assert.Equal(t, 2, passed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, skipped)
}

func TestConcurrentRecording(t *testing.T) {
	rec := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Begin("paginas", "get").Pass("ok")
		}()
	}
	wg.Wait()

	results := rec.Results()
	require.Len(t, results, 20)
	seqs := map[int]bool{}
	for _, r := range results {
		seqs[r.Seq] = true
	}
	assert.Len(t, seqs, 20)
}
