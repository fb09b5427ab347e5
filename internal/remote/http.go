package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/logging"
)

// Control API paths.
const (
	pathLatestReading = "/api/sensor-readings/latest"
	pathSessions      = "/api/sessions"
	pathStartManual   = "/api/start-control"
	pathStartProgram  = "/api/start-auto-program"
	pathPause         = "/api/pause-control"
	pathResume        = "/api/resume-control"
	pathStop          = "/api/stop-control"
	pathPrograms      = "/api/programs"
	pathHealth        = "/api/health"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxPages = 3
	defaultCacheTTL = 5 * time.Minute
	maxBodyBytes    = 4 << 20
	programsKey     = "programs"
)

// HTTPClient implements Client against the control service REST API.
type HTTPClient struct {
	baseURL  *url.URL
	token    string
	client   *http.Client
	maxPages int
	cacheTTL time.Duration
	programs *cache.Cache
	log      *logging.Logger
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) ClientOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// WithTimeout bounds each request, including reading the body.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithMaxPages limits how many pages of a paginated session list are read.
func WithMaxPages(n int) ClientOption {
	return func(c *HTTPClient) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithProgramCacheTTL sets how long the program catalog is cached. Zero
// disables caching.
func WithProgramCacheTTL(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.cacheTTL = d
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *HTTPClient) {
		if l != nil {
			c.log = l
		}
	}
}

// NewHTTPClient creates a client for the control service at baseURL
// (e.g. "http://localhost:5000").
func NewHTTPClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, cycle.FatalConfig("remote", fmt.Sprintf("invalid base URL %q", baseURL))
	}

	c := &HTTPClient{
		baseURL:  u,
		client:   &http.Client{Timeout: defaultTimeout},
		maxPages: defaultMaxPages,
		cacheTTL: defaultCacheTTL,
		log:      logging.With("component", "remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cacheTTL > 0 {
		c.programs = cache.New(c.cacheTTL, 2*c.cacheTTL)
	}
	return c, nil
}

// BaseURL returns the control service address.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL.String()
}

// resolve turns an API path or a pagination link into an absolute URL.
func (c *HTTPClient) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	base := *c.baseURL
	if strings.HasPrefix(ref, "/") {
		// Keep any path prefix the base URL carries.
		joined := base.JoinPath(u.Path)
		joined.RawQuery = u.RawQuery
		return joined.String(), nil
	}
	return base.ResolveReference(u).String(), nil
}

// do sends a request and returns the status code and body. Only transport
// failures are returned as errors.
func (c *HTTPClient) do(ctx context.Context, op, method, ref string, body interface{}) (int, []byte, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return 0, nil, cycle.Validation(op, fmt.Sprintf("invalid URL %q", ref))
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug("request failed", "op", op, "request_id", requestID, "error", err)
		return 0, nil, cycle.Transient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, cycle.Transient(op, fmt.Errorf("failed to read response: %w", err))
	}
	c.log.Debug("request done", "op", op, "request_id", requestID, "status", resp.StatusCode, "elapsed", time.Since(start).Round(time.Millisecond))
	return resp.StatusCode, data, nil
}

// classify maps a non-2xx response to the error taxonomy.
func classify(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var cr commandResponse
	_ = json.Unmarshal(body, &cr)
	msg := cr.text()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	detail := fmt.Sprintf("%d %s", status, msg)

	switch {
	case isNoEffect(msg) || status == http.StatusConflict:
		return cycle.Conflict(op, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return cycle.FatalConfig(op, "control service rejected credentials: "+detail)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return cycle.Transient(op, errors.New(detail))
	default:
		return cycle.Validation(op, detail)
	}
}

// isNoEffect recognises messages saying the session was already in the
// requested state.
func isNoEffect(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "already") || strings.Contains(m, "no active session") || strings.Contains(m, "no running session")
}

func (c *HTTPClient) getJSON(ctx context.Context, op, ref string, out interface{}) error {
	status, body, err := c.do(ctx, op, http.MethodGet, ref, nil)
	if err != nil {
		return err
	}
	if err := classify(op, status, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return cycle.Transient(op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// postCommand sends a control command and checks its acknowledgement. The
// decoded response is returned even alongside a Conflict error so callers
// can read any status it reports.
func (c *HTTPClient) postCommand(ctx context.Context, op, path string, body interface{}) (commandResponse, error) {
	var cr commandResponse
	status, data, err := c.do(ctx, op, http.MethodPost, path, body)
	if err != nil {
		return cr, err
	}
	if len(bytes.TrimSpace(data)) > 0 {
		_ = json.Unmarshal(data, &cr)
	}
	if err := classify(op, status, data); err != nil {
		return cr, err
	}

	if cr.Success != nil && !*cr.Success {
		if isNoEffect(cr.text()) {
			return cr, cycle.Conflict(op, cr.text())
		}
		return cr, cycle.Validation(op, cr.text())
	}
	if cr.RowsAffected != nil && *cr.RowsAffected == 0 {
		return cr, cycle.Conflict(op, "no session in a state the command applies to")
	}
	return cr, nil
}

// Latest fetches the most recent sensor reading.
func (c *HTTPClient) Latest(ctx context.Context) (cycle.Reading, error) {
	var w wireReading
	if err := c.getJSON(ctx, "latest reading", pathLatestReading, &w); err != nil {
		return cycle.Reading{}, err
	}
	if !w.Timestamp.Valid {
		return cycle.Reading{}, ErrNoReading
	}
	return w.reading(), nil
}

// List fetches sessions, following pagination links up to the page limit.
func (c *HTTPClient) List(ctx context.Context) ([]cycle.Session, error) {
	const op = "list sessions"

	var all []cycle.Session
	seen := make(map[string]bool)
	ref := pathSessions
	for page := 0; page < c.maxPages && ref != ""; page++ {
		status, body, err := c.do(ctx, op, http.MethodGet, ref, nil)
		if err != nil {
			return nil, err
		}
		if err := classify(op, status, body); err != nil {
			return nil, err
		}
		sessions, next, err := decodeSessionPage(body)
		if err != nil {
			return nil, cycle.Transient(op, err)
		}
		for _, s := range sessions {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			all = append(all, s)
		}
		ref = next
	}
	return all, nil
}

// ByID finds a session in the remote list.
func (c *HTTPClient) ByID(ctx context.Context, id string) (cycle.Session, error) {
	sessions, err := c.List(ctx)
	if err != nil {
		return cycle.Session{}, err
	}
	s, ok := FindSession(sessions, id)
	if !ok {
		return cycle.Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, nil
}

type startManualRequest struct {
	TargetPressure  float64 `json:"target_pressure"`
	DurationMinutes float64 `json:"duration_minutes"`
	ProgramName     string  `json:"program_name"`
}

type startProgramRequest struct {
	ProgramID     string       `json:"program_id,omitempty"`
	ProgramName   string       `json:"program_name"`
	Steps         []cycle.Step `json:"steps"`
	TotalDuration float64      `json:"total_duration"`
}

// Start requests a new session. The returned session may have an empty ID
// when the service does not report one; the monitor then adopts the most
// recent session on its first reconciliation.
func (c *HTTPClient) Start(ctx context.Context, cfg cycle.StartConfig) (cycle.Session, error) {
	const op = "start session"
	if err := cfg.Validate(); err != nil {
		return cycle.Session{}, err
	}

	var (
		cr  commandResponse
		err error
	)
	session := cycle.Session{Status: cycle.StatusRunning}

	if cfg.Manual != nil {
		cr, err = c.postCommand(ctx, op, pathStartManual, startManualRequest{
			TargetPressure:  cfg.Manual.TargetPressure,
			DurationMinutes: cfg.Manual.DurationMinutes,
			ProgramName:     cycle.ManualProgramName,
		})
		session.ProgramName = cycle.ManualProgramName
		session.ManualTarget = cfg.Manual.TargetPressure
		session.ManualDuration = cfg.Manual.DurationMinutes
	} else {
		p := cfg.Program
		cr, err = c.postCommand(ctx, op, pathStartProgram, startProgramRequest{
			ProgramID:     p.ID,
			ProgramName:   p.Name,
			Steps:         p.Steps,
			TotalDuration: p.TotalMinutes(),
		})
		session.ProgramRef = p.ID
		session.ProgramName = p.Name
		session.Steps = append([]cycle.Step(nil), p.Steps...)
	}
	if err != nil {
		return cycle.Session{}, err
	}

	session.ID = string(cr.SessionID)
	session.StartTime = time.Now()
	if cr.StartTime.Valid {
		session.StartTime = cr.StartTime.Time
	}
	return session, nil
}

type sessionCommand struct {
	SessionID string `json:"session_id,omitempty"`
}

// Pause asks the service to pause the running session.
func (c *HTTPClient) Pause(ctx context.Context, sessionID string) error {
	_, err := c.postCommand(ctx, "pause session", pathPause, sessionCommand{SessionID: sessionID})
	return err
}

// Resume asks the service to resume the paused session.
func (c *HTTPClient) Resume(ctx context.Context, sessionID string) error {
	_, err := c.postCommand(ctx, "resume session", pathResume, sessionCommand{SessionID: sessionID})
	return err
}

// Stop asks the service to stop the session. When the response names a
// terminal status it is returned, including alongside a Conflict error.
func (c *HTTPClient) Stop(ctx context.Context, sessionID string) (cycle.Status, error) {
	cr, err := c.postCommand(ctx, "stop session", pathStop, sessionCommand{SessionID: sessionID})
	var status cycle.Status
	if s := cycle.ParseStatus(cr.Status); s.IsTerminal() {
		status = s
	}
	return status, err
}

// Programs returns the stored program catalog, cached for the configured TTL.
func (c *HTTPClient) Programs(ctx context.Context) ([]cycle.Program, error) {
	if c.programs != nil {
		if cached, ok := c.programs.Get(programsKey); ok {
			return cached.([]cycle.Program), nil
		}
	}

	var wire []wireProgram
	if err := c.getJSON(ctx, "list programs", pathPrograms, &wire); err != nil {
		return nil, err
	}
	programs := make([]cycle.Program, len(wire))
	for i, w := range wire {
		programs[i] = w.program()
	}

	if c.programs != nil {
		c.programs.SetDefault(programsKey, programs)
	}
	return programs, nil
}

// Program finds a program by id, number or name.
func (c *HTTPClient) Program(ctx context.Context, ref string) (cycle.Program, error) {
	programs, err := c.Programs(ctx)
	if err != nil {
		return cycle.Program{}, err
	}
	return FindProgram(programs, ref)
}

// FindProgram matches ref against program ids, numbers and names.
func FindProgram(programs []cycle.Program, ref string) (cycle.Program, error) {
	ref = strings.TrimSpace(ref)
	num, numErr := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(ref), "P"))
	for _, p := range programs {
		if p.ID == ref {
			return p, nil
		}
	}
	for _, p := range programs {
		if numErr == nil && p.Number == num && p.Number > 0 {
			return p, nil
		}
		if strings.EqualFold(p.Name, ref) {
			return p, nil
		}
	}
	return cycle.Program{}, cycle.Validation("find program", fmt.Sprintf("unknown program %q", ref))
}

// InvalidatePrograms drops the cached catalog.
func (c *HTTPClient) InvalidatePrograms() {
	if c.programs != nil {
		c.programs.Delete(programsKey)
	}
}

// Logs returns the readings recorded during a session, oldest first.
func (c *HTTPClient) Logs(ctx context.Context, sessionID string) ([]cycle.Reading, error) {
	const op = "session logs"
	status, body, err := c.do(ctx, op, http.MethodGet, pathSessions+"/"+url.PathEscape(sessionID)+"/logs", nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err := classify(op, status, body); err != nil {
		return nil, err
	}

	var wire []wireReading
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, cycle.Transient(op, fmt.Errorf("failed to decode response: %w", err))
	}
	readings := make([]cycle.Reading, 0, len(wire))
	for _, w := range wire {
		if w.Timestamp.Valid {
			readings = append(readings, w.reading())
		}
	}
	return readings, nil
}

// Health checks that the service and its database are reachable.
func (c *HTTPClient) Health(ctx context.Context) error {
	const op = "health"
	var body struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := c.getJSON(ctx, op, pathHealth, &body); err != nil {
		return err
	}
	switch strings.ToLower(body.Status) {
	case "healthy", "ok":
		return nil
	default:
		return cycle.Transient(op, fmt.Errorf("service reports %q: %s", body.Status, body.Error))
	}
}
