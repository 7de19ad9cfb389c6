package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenSource struct {
	val   string
	err   error
	calls int
}

func (f *fakeTokenSource) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func TestNewClient_EmptyBaseURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
}

func TestNewClient_TokenSourceNeedsName(t *testing.T) {
	_, err := NewClient("http://x", WithTokenParameter(&fakeTokenSource{}, " "))
	require.Error(t, err)
}

func TestAnswerURL_EscapesElementID(t *testing.T) {
	c, err := NewClient("https://lms.example.com/api/")
	require.NoError(t, err)
	assert.Equal(t, "https://lms.example.com/api/elements/a%2Fb/answers", c.answerURL("a/b"))
}

func TestSubmitAnswer_Success(t *testing.T) {
	var (
		gotPath string
		gotBody map[string]json.RawMessage
		gotHdr  http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHdr = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ans-1","correct":true}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithToken("tok"))
	require.NoError(t, err)

	data, err := c.SubmitAnswer(context.Background(), "q1", "gl1", "sub-1", json.RawMessage(`{"choice":2}`))
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"ans-1","correct":true}`, string(data))
	assert.Equal(t, "/elements/q1/answers", gotPath)
	assert.JSONEq(t, `{"choice":2}`, string(gotBody["answer"]))
	assert.JSONEq(t, `"gl1"`, string(gotBody["graph_lesson_id"]))
	assert.Equal(t, "sub-1", gotHdr.Get("Idempotency-Key"))
	assert.Equal(t, "Bearer tok", gotHdr.Get("Authorization"))
}

func TestSubmitAnswer_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	data, err := c.SubmitAnswer(context.Background(), "q1", "gl1", "", json.RawMessage(`1`))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSubmitAnswer_StatusErrors(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnprocessableEntity, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			c, err := NewClient(srv.URL)
			require.NoError(t, err)

			_, err = c.SubmitAnswer(context.Background(), "q1", "gl1", "sub", json.RawMessage(`1`))
			require.Error(t, err)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tc.status, se.HTTPStatusCode())
			assert.Equal(t, "nope", se.Body)
			assert.Equal(t, tc.retryable, se.Retryable())
		})
	}
}

func TestSubmitAnswer_TransportErrorHasNoStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, WithTimeout(time.Second))
	require.NoError(t, err)

	_, err = c.SubmitAnswer(context.Background(), "q1", "gl1", "sub", json.RawMessage(`1`))
	require.Error(t, err)

	var se *StatusError
	assert.False(t, errors.As(err, &se), "transport failures carry no status")
}

func TestSubmitAnswer_TokenResolvedOnce(t *testing.T) {
	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	src := &fakeTokenSource{val: "from-ssm\n"}
	c, err := NewClient(srv.URL, WithTokenParameter(src, "/answersync/api-token"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.SubmitAnswer(context.Background(), "q1", "gl1", "sub", json.RawMessage(`1`))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, []string{"Bearer from-ssm", "Bearer from-ssm", "Bearer from-ssm"}, auth)
}

func TestSubmitAnswer_TokenFailure(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", WithTokenParameter(&fakeTokenSource{err: errors.New("denied")}, "/p"))
	require.NoError(t, err)

	_, err = c.SubmitAnswer(context.Background(), "q1", "gl1", "sub", json.RawMessage(`1`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}
