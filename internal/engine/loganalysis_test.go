package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhi19-dev/incident-agent/internal/llm"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

func TestLogAnalyzerStopsAtFirstChunkWithIssues(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "INFO service heartbeat ok")
	}
	lines = append(lines, "ERROR write failed: no space left on device /var")
	for i := 0; i < 40; i++ {
		lines = append(lines, "WARN cpu load 98% for process java")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Join(lines, "\n")))
	}))
	defer srv.Close()

	completer := newRouteCompleter(map[string]func(llm.CompletionRequest) string{
		"log_analysis": func(req llm.CompletionRequest) string {
			if strings.Contains(req.User, "no space left") {
				return `{"issues":[{"potential_issue":"low disk space","log_items":"no space left on device","insights":"/var is full"}]}`
			}
			return `{"issues":[]}`
		},
	})
	analyzer := NewLogAnalyzer(nil, structuredFor(completer), 20, time.Second, []string{"127.0.0.1"})

	result, found, err := analyzer.Analyze(context.Background(), srv.URL+"/vm.log")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "low disk space", result.Issues[0].PotentialIssue)

	calls := completer.calls["log_analysis"]
	assert.Greater(t, calls, 1)
	last := completer.messages["log_analysis"][calls-1]
	assert.Contains(t, last, "no space left")
	assert.NotContains(t, strings.Join(completer.messages["log_analysis"][:calls-1], ""), "no space left")
}

func TestLogAnalyzerNothingFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("INFO all good\nINFO still good"))
	}))
	defer srv.Close()

	completer := newRouteCompleter(map[string]func(llm.CompletionRequest) string{"log_analysis": fixed(`{"issues":[]}`)})
	_, found, err := NewLogAnalyzer(nil, structuredFor(completer), 0, time.Second, []string{"127.0.0.1"}).Analyze(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLogAnalyzerFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := NewLogAnalyzer(nil, structuredFor(newRouteCompleter(nil)), 0, time.Second, []string{"127.0.0.1"}).Analyze(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestLogAnalyzerChunksByLineCount(t *testing.T) {
	lines := make([]string, 2500)
	for i := range lines {
		lines[i] = "INFO request served in 12ms with a reasonably long trailing message"
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Join(lines, "\n")))
	}))
	defer srv.Close()

	completer := newRouteCompleter(map[string]func(llm.CompletionRequest) string{"log_analysis": fixed(`{"issues":[]}`)})
	_, found, err := NewLogAnalyzer(nil, structuredFor(completer), 0, time.Second, []string{"127.0.0.1"}).Analyze(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, found)

	require.Equal(t, 3, completer.calls["log_analysis"])
	for _, msg := range completer.messages["log_analysis"] {
		assert.LessOrEqual(t, strings.Count(msg, "INFO request served"), 1000)
	}
}

func TestLineCount(t *testing.T) {
	assert.Equal(t, 0, lineCount("\n"))
	assert.Equal(t, 1, lineCount("single"))
	assert.Equal(t, 3, lineCount("a\nb\nc"))
}

func TestLogAnalyzerRejectsHostsOutsideAllowlist(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("INFO ok"))
	}))
	defer srv.Close()

	completer := newRouteCompleter(map[string]func(llm.CompletionRequest) string{"log_analysis": fixed(`{"issues":[]}`)})
	analyzer := NewLogAnalyzer(nil, structuredFor(completer), 0, time.Second, []string{"logs.example.com", ".blob.example.net"})

	cases := map[string]int{
		srv.URL + "/vm.log":                      http.StatusForbidden,
		"http://169.254.169.254/metadata":        http.StatusForbidden,
		"https://evil-logs.example.com/vm.log":   http.StatusForbidden,
		"file:///etc/passwd":                     http.StatusBadRequest,
		"https://logs.example.com.attacker.io/x": http.StatusForbidden,
	}
	for logURL, status := range cases {
		_, _, err := analyzer.Analyze(context.Background(), logURL)
		require.Error(t, err, logURL)
		assert.Equal(t, status, utils.HTTPStatus(err, 0), logURL)
		if status == http.StatusForbidden {
			assert.True(t, errors.Is(err, ErrLogHostNotAllowed), logURL)
		}
	}
	assert.Zero(t, hits)
	assert.Zero(t, completer.calls["log_analysis"])
}

func TestLogAnalyzerAllowsSubdomainEntries(t *testing.T) {
	analyzer := NewLogAnalyzer(nil, nil, 0, time.Second, []string{".blob.example.net", "Logs.Example.com"})
	assert.NoError(t, analyzer.checkURL("https://acct.blob.example.net/logs/vm.log"))
	assert.NoError(t, analyzer.checkURL("https://logs.example.com/vm.log"))
	assert.Error(t, analyzer.checkURL("https://blob.example.net.evil.io/vm.log"))
}
