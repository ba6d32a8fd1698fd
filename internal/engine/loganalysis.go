package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/akhi19-dev/incident-agent/internal/llm"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

const (
	defaultLogChunkLines = 1000
	maxLogBytes          = 16 << 20
)

// ErrLogHostNotAllowed is returned for log URLs outside the configured host allowlist.
var ErrLogHostNotAllowed = errors.New("log host not allowed")

// LogAnalyzer scans a remote log file for CPU and disk pressure symptoms.
type LogAnalyzer struct {
	logger       *slog.Logger
	httpClient   *http.Client
	structured   *llm.StructuredClient
	splitter     textsplitter.TextSplitter
	allowedHosts []string
}

// NewLogAnalyzer constructs an analyzer that splits logs into chunks of chunkLines lines.
// Only URLs whose host matches allowedHosts are fetched. An entry starting with a dot
// matches any subdomain.
func NewLogAnalyzer(logger *slog.Logger, structured *llm.StructuredClient, chunkLines int, timeout time.Duration, allowedHosts []string) *LogAnalyzer {
	if chunkLines <= 0 {
		chunkLines = defaultLogChunkLines
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &LogAnalyzer{
		logger:     utils.Component(logger, "log-analyzer"),
		httpClient: &http.Client{Timeout: timeout},
		structured: structured,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkLines),
			textsplitter.WithChunkOverlap(0),
			textsplitter.WithSeparators([]string{"\n"}),
			textsplitter.WithLenFunc(lineCount),
		),
		allowedHosts: hosts,
	}
}

// lineCount measures text in lines. The newline separator itself counts as nothing.
func lineCount(text string) int {
	if text == "\n" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

// Analyze returns the issues found in the first chunk that has any. The boolean is false
// when no chunk produced an issue.
func (a *LogAnalyzer) Analyze(ctx context.Context, logURL string) (LogAnalysis, bool, error) {
	text, err := a.fetch(ctx, logURL)
	if err != nil {
		return LogAnalysis{}, false, err
	}
	chunks, err := a.splitter.SplitText(text)
	if err != nil {
		return LogAnalysis{}, false, fmt.Errorf("split log: %w", err)
	}

	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		a.logger.Debug("analysing log chunk", slog.Int("chunk", i+1), slog.Int("of", len(chunks)))
		result, ok := llm.CompleteStructured[LogAnalysis](ctx, a.structured, "log_analysis",
			logAnalysisPrompt, "Here are the logs:\n"+chunk)
		if ctx.Err() != nil {
			return LogAnalysis{}, false, ctx.Err()
		}
		if ok && len(result.Issues) > 0 {
			return result, true, nil
		}
	}
	return LogAnalysis{}, false, nil
}

// checkURL rejects anything but http(s) URLs on an allowed host.
func (a *LogAnalyzer) checkURL(logURL string) error {
	parsed, err := url.Parse(logURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Hostname() == "" {
		return utils.NewBadRequest("log_analysis.fetch", "invalid log url", err)
	}
	host := strings.ToLower(parsed.Hostname())
	for _, allowed := range a.allowedHosts {
		if host == allowed || (strings.HasPrefix(allowed, ".") && strings.HasSuffix(host, allowed)) {
			return nil
		}
	}
	return &utils.AppError{
		Op:     "log_analysis.fetch",
		Msg:    "host " + host + " is not allowed",
		Status: http.StatusForbidden,
		Err:    ErrLogHostNotAllowed,
	}
}

func (a *LogAnalyzer) fetch(ctx context.Context, logURL string) (string, error) {
	if err := a.checkURL(logURL); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logURL, nil)
	if err != nil {
		return "", utils.NewBadRequest("log_analysis.fetch", "invalid log url", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch log: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch log: %s returned %s", logURL, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLogBytes))
	if err != nil {
		return "", fmt.Errorf("read log: %w", err)
	}
	return string(data), nil
}
