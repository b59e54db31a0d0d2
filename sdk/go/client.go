package fixlinesdk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Fixline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Job represents the API job model (partial).
type Job struct {
	ID            string  `json:"id"`
	HomeownerID   string  `json:"homeowner_id"`
	ContractorID  *string `json:"contractor_id"`
	Trade         string  `json:"trade"`
	Title         string  `json:"title"`
	Status        string  `json:"status"`
	ScheduledAt   *string `json:"scheduled_at"`
	EstimatedCost *int64  `json:"estimated_cost"`
	ActualCost    *int64  `json:"actual_cost"`
	Paid          bool    `json:"paid"`
}

// Quote represents a contractor bid.
type Quote struct {
	ID              string `json:"id"`
	JobID           string `json:"job_id"`
	ContractorID    string `json:"contractor_id"`
	Amount          int64  `json:"amount"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
}

// Slot represents an availability window.
type Slot struct {
	ID           string  `json:"id"`
	ContractorID string  `json:"contractor_id"`
	StartTime    string  `json:"start_time"`
	EndTime      string  `json:"end_time"`
	IsBooked     bool    `json:"is_booked"`
	JobID        *string `json:"job_id"`
}

// Proposal represents an appointment proposal.
type Proposal struct {
	ID          string  `json:"id"`
	JobID       string  `json:"job_id"`
	ProposedBy  string  `json:"proposed_by"`
	StartTime   string  `json:"start_time"`
	EndTime     string  `json:"end_time"`
	Status      string  `json:"status"`
	RespondedAt *string `json:"responded_at"`
}

// GeoFix carries a reported position.
type GeoFix struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

// Sheet represents the on-site job sheet (partial).
type Sheet struct {
	ID               string  `json:"id"`
	JobID            string  `json:"job_id"`
	ContractorID     string  `json:"contractor_id"`
	Status           string  `json:"status"`
	CheckInTime      *string `json:"check_in_time"`
	CheckOutTime     *string `json:"check_out_time"`
	TimeSpentMinutes int     `json:"time_spent_minutes"`
	AdditionalCosts  int64   `json:"additional_costs"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	JobID      string         `json:"job_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateJob files a job request.
func (c *Client) CreateJob(ctx context.Context, trade, title, description string) (Job, error) {
	body := map[string]any{
		"trade":       trade,
		"title":       title,
		"description": description,
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, "v0/jobs", body, &resp)
	return resp, err
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "v0/jobs/"+url.PathEscape(jobID), nil, &resp)
	return resp, err
}

// SubmitQuote bids on a job. Amount is in cents.
func (c *Client) SubmitQuote(ctx context.Context, jobID string, amount int64, durationMinutes int, description string) (Quote, error) {
	body := map[string]any{
		"amount":           amount,
		"duration_minutes": durationMinutes,
		"description":      description,
	}
	var resp Quote
	endpoint := fmt.Sprintf("v0/jobs/%s/quotes", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AcceptQuote accepts a quote on behalf of the homeowner.
func (c *Client) AcceptQuote(ctx context.Context, jobID, quoteID string) (Quote, error) {
	var resp Quote
	endpoint := fmt.Sprintf("v0/jobs/%s/quotes/%s/accept", url.PathEscape(jobID), url.PathEscape(quoteID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CreateSlot declares a contractor availability window.
func (c *Client) CreateSlot(ctx context.Context, startTime, endTime string) (Slot, error) {
	body := map[string]any{
		"start_time": startTime,
		"end_time":   endTime,
	}
	var resp Slot
	err := c.do(ctx, http.MethodPost, "v0/slots", body, &resp)
	return resp, err
}

// BookSlot books a slot for a job and returns the scheduled job.
func (c *Client) BookSlot(ctx context.Context, slotID, jobID string) (Job, error) {
	body := map[string]any{"job_id": jobID}
	var resp Job
	endpoint := fmt.Sprintf("v0/slots/%s/book", url.PathEscape(slotID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Propose suggests an appointment window for a job.
func (c *Client) Propose(ctx context.Context, jobID, startTime, endTime, message string) (Proposal, error) {
	body := map[string]any{
		"start_time": startTime,
		"end_time":   endTime,
		"message":    message,
	}
	var resp Proposal
	endpoint := fmt.Sprintf("v0/jobs/%s/proposals", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RespondProposal accepts, rejects, or counters a proposal.
func (c *Client) RespondProposal(ctx context.Context, proposalID, response, counterStart, counterEnd string) (Proposal, error) {
	body := map[string]any{"response": response}
	if counterStart != "" {
		body["counter_start"] = counterStart
		body["counter_end"] = counterEnd
	}
	var resp Proposal
	endpoint := fmt.Sprintf("v0/proposals/%s/respond", url.PathEscape(proposalID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CheckIn records the contractor's arrival on site.
func (c *Client) CheckIn(ctx context.Context, jobID string, fix *GeoFix) (Sheet, error) {
	body := map[string]any{}
	if fix != nil {
		body["location"] = fix
	}
	var resp Sheet
	endpoint := fmt.Sprintf("v0/jobs/%s/checkin", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CheckOut records the contractor's departure.
func (c *Client) CheckOut(ctx context.Context, jobID string, fix *GeoFix) (Sheet, error) {
	body := map[string]any{}
	if fix != nil {
		body["location"] = fix
	}
	var resp Sheet
	endpoint := fmt.Sprintf("v0/jobs/%s/checkout", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Sign attaches a completion signature for the given role.
func (c *Client) Sign(ctx context.Context, jobID, role string, stroke []byte) (Sheet, error) {
	body := map[string]any{
		"role":          role,
		"stroke_base64": base64.StdEncoding.EncodeToString(stroke),
	}
	var resp Sheet
	endpoint := fmt.Sprintf("v0/jobs/%s/signatures", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
