package reststore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"boardportal/auth"
	"boardportal/httpx"
	"boardportal/resolution"
)

// tokenSubject identifies this process to the facade.
const tokenSubject = "boardportal"

// ClientOptions configures the facade client.
type ClientOptions struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	// Tokens signs a fresh bearer token per request when set.
	Tokens *auth.Service
}

// Client is the secondary backend tier: a resolution store reached over the
// REST facade.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func NewClient(opts ClientOptions, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if opts.Tokens != nil {
		tokens := opts.Tokens
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			token, err := tokens.IssueToken(tokenSubject, auth.ScopeRead, auth.ScopeWrite)
			if err != nil {
				return fmt.Errorf("reststore: issue token: %w", err)
			}
			req.SetAuthToken(token)
			return nil
		})
	}
	return &Client{http: client, logger: logger}
}

func (c *Client) Name() string { return "rest" }

func (c *Client) Create(ctx context.Context, res resolution.Resolution) (resolution.Resolution, error) {
	var out ResolutionDTO
	resp, err := c.request(ctx).
		SetBody(FromResolution(res)).
		SetResult(&out).
		Post("/v1/resolutions")
	if err := c.check(resp, err, "create"); err != nil {
		return resolution.Resolution{}, err
	}
	return out.ToResolution(), nil
}

func (c *Client) Get(ctx context.Context, id string) (resolution.Resolution, error) {
	var out ResolutionDTO
	resp, err := c.request(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		Get("/v1/resolutions/{id}")
	if err := c.check(resp, err, "get"); err != nil {
		return resolution.Resolution{}, err
	}
	return out.ToResolution(), nil
}

func (c *Client) List(ctx context.Context) ([]resolution.Resolution, error) {
	var out listResponse
	resp, err := c.request(ctx).
		SetResult(&out).
		Get("/v1/resolutions")
	if err := c.check(resp, err, "list"); err != nil {
		return nil, err
	}
	items := make([]resolution.Resolution, 0, len(out.Items))
	for _, dto := range out.Items {
		items = append(items, dto.ToResolution())
	}
	return items, nil
}

func (c *Client) UpdateSignatory(ctx context.Context, resolutionID, signatoryID string, signedAt time.Time, hash string) error {
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"id": resolutionID, "sid": signatoryID}).
		SetBody(signatureRequest{SignedAt: signedAt.UTC(), SignatureHash: hash}).
		Put("/v1/resolutions/{id}/signatories/{sid}/signature")
	return c.check(resp, err, "update signatory")
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status resolution.Status) error {
	resp, err := c.request(ctx).
		SetPathParam("id", id).
		SetBody(statusRequest{Status: string(status)}).
		Put("/v1/resolutions/{id}/status")
	return c.check(resp, err, "update status")
}

func (c *Client) TransitionStatus(ctx context.Context, id string, from, to resolution.Status) error {
	resp, err := c.request(ctx).
		SetPathParam("id", id).
		SetBody(transitionRequest{From: string(from), To: string(to)}).
		Post("/v1/resolutions/{id}/status/transition")
	return c.check(resp, err, "transition status")
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&httpx.ErrorBody{})
}

// check turns a transport failure or an error envelope into an error,
// mapping known codes back onto the resolution sentinels.
func (c *Client) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("reststore: %s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}
	var code, message string
	if body, ok := resp.Error().(*httpx.ErrorBody); ok && body != nil {
		code, message = body.Error.Code, body.Error.Message
	}
	if sentinel, ok := codeErrors[code]; ok {
		return sentinel
	}
	c.logger.Warn("facade returned error",
		zap.String("op", op),
		zap.Int("status_code", resp.StatusCode()),
		zap.String("code", code),
	)
	return fmt.Errorf("reststore: %s: status %d: %s %s", op, resp.StatusCode(), code, message)
}
