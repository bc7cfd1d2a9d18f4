// Package notion exports transcripts as pages of a Notion database.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatbridge/internal/domain"
	"chatbridge/internal/logsink"
	"chatbridge/internal/transport"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2022-06-28"
	batchSize      = 100
	titleProperty  = "Name"
)

// Client drives the Notion page and block APIs.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sink       logsink.Sink
	now        func() time.Time
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithSink(sink logsink.Sink) Option {
	return func(c *Client) {
		c.sink = sink
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	c.sink = logsink.OrNop(c.sink)
	return c
}

type createPageRequest struct {
	Parent     pageParent                 `json:"parent"`
	Properties map[string]titleProperties `json:"properties"`
}

type pageParent struct {
	DatabaseID string `json:"database_id"`
}

type titleProperties struct {
	Title []richText `json:"title"`
}

type createPageResponse struct {
	ID string `json:"id"`
}

type appendChildrenRequest struct {
	Children []Block `json:"children"`
}

// Export creates one page in the configured database and appends the
// transcript to it in batches.
func (c *Client) Export(ctx context.Context, job domain.ExportJob) (domain.ExportResult, error) {
	creds := job.Notion
	if strings.TrimSpace(creds.Token) == "" {
		return domain.ExportResult{}, domain.ConfigError("Notion integration token is missing")
	}
	if strings.TrimSpace(creds.DatabaseID) == "" {
		return domain.ExportResult{}, domain.ConfigError("Notion Database ID is missing")
	}
	api := transport.New(c.httpClient, c.sink)

	pageID, err := c.createPage(ctx, api, creds)
	if err != nil {
		return domain.ExportResult{}, err
	}

	blocks := BuildBlocks(job.SystemPrompt, job.Transcript)
	batches := (len(blocks) + batchSize - 1) / batchSize
	url := fmt.Sprintf("%s/blocks/%s/children", c.baseURL, pageID)
	for i := 0; i < len(blocks); i += batchSize {
		batch := blocks[i:min(i+batchSize, len(blocks))]
		n := i/batchSize + 1
		c.sink.Log(logsink.Request, fmt.Sprintf("Notion API: Appending Batch %d of %d", n, batches), map[string]any{"batchSize": len(batch)})

		_, err := api.Do(ctx, transport.Request{
			Method:  http.MethodPatch,
			URL:     url,
			Headers: c.headers(creds.Token),
			Body:    appendChildrenRequest{Children: batch},
		})
		if err != nil {
			return domain.ExportResult{}, appendError(n, err)
		}
	}

	c.sink.Log(logsink.Info, "Notion export complete", map[string]any{"pageId": pageID, "blocks": len(blocks)})
	return domain.ExportResult{Target: domain.ExportNotion, DocumentID: pageID, Blocks: len(blocks)}, nil
}

func (c *Client) createPage(ctx context.Context, api *transport.Client, creds domain.NotionCredentials) (string, error) {
	c.sink.Log(logsink.Info, "Notion: Creating new page in database...", nil)

	title := "Chat Export - " + c.now().Format("2006-01-02 15:04:05")
	var out createPageResponse
	err := api.DoJSON(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/pages",
		Headers: c.headers(creds.Token),
		Body: createPageRequest{
			Parent: pageParent{DatabaseID: creds.DatabaseID},
			Properties: map[string]titleProperties{
				titleProperty: {Title: []richText{plainText(title)}},
			},
		},
	}, &out)
	if err != nil {
		var se *transport.HTTPStatusError
		if errors.As(err, &se) {
			if strings.Contains(se.Body, "body.properties."+titleProperty) {
				return "", &domain.Error{
					Kind:    domain.ErrorProtocol,
					Stage:   "create_page",
					Message: "could not find title property 'Name'; make sure the database title column is named 'Name'",
					Err:     se,
				}
			}
			return "", &domain.Error{
				Kind:    domain.ErrorTransport,
				Stage:   "create_page",
				Message: fmt.Sprintf("failed to create Notion page (%d): %s", se.StatusCode, se.Body),
				Err:     se,
			}
		}
		var de *transport.DecodeError
		if errors.As(err, &de) {
			return "", &domain.Error{Kind: domain.ErrorProtocol, Stage: "create_page", Message: "unreadable page response", Err: de}
		}
		return "", domain.TransportError("create_page", err)
	}
	if out.ID == "" {
		return "", domain.ProtocolError("create_page", "created page but the response carried no id")
	}
	c.sink.Log(logsink.Info, fmt.Sprintf("Notion: Page created successfully (%s)", out.ID), nil)
	return out.ID, nil
}

func (c *Client) headers(token string) map[string]string {
	return map[string]string{
		"Authorization":  transport.Bearer(token),
		"Notion-Version": apiVersion,
	}
}

func appendError(batch int, err error) error {
	var se *transport.HTTPStatusError
	if errors.As(err, &se) {
		return &domain.Error{
			Kind:    domain.ErrorTransport,
			Stage:   "append_blocks",
			Message: fmt.Sprintf("Notion API append error on batch %d (%d): %s", batch, se.StatusCode, se.Body),
			Err:     se,
		}
	}
	return domain.TransportError("append_blocks", err)
}
