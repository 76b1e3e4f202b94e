// Package tempo reads worklogs from the Tempo REST API.
package tempo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Tiliavir/timesync/internal/httpx"
	"github.com/Tiliavir/timesync/internal/source"
	"github.com/Tiliavir/timesync/internal/timecalc"
)

// DefaultBaseURL is the Tempo Cloud API root.
const DefaultBaseURL = "https://api.tempo.io/4"

const pageSize = 1000

// Client fetches worklogs. It implements source.WorklogSource.
type Client struct {
	http      *httpx.Client
	accountID string
}

// New creates a Client. accountID is the default worklog author filter.
func New(c *httpx.Client, accountID string) *Client {
	return &Client{http: c, accountID: accountID}
}

// worklogPage is the paged response of the worklogs endpoints.
type worklogPage struct {
	Metadata struct {
		Count  int    `json:"count"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
		Next   string `json:"next"`
	} `json:"metadata"`
	Results []source.RawWorklog `json:"results"`
}

// FetchWorklogs returns all worklogs in [from, to] for account, or for the
// configured account when account is empty. Pages are concatenated in server order.
func (c *Client) FetchWorklogs(ctx context.Context, from, to time.Time, account string) ([]source.RawWorklog, error) {
	if account == "" {
		account = c.accountID
	}
	path := "/worklogs"
	if account != "" {
		path = "/worklogs/user/" + url.PathEscape(account)
	}
	query := url.Values{
		"from":   {from.Format(timecalc.DateLayout)},
		"to":     {to.Format(timecalc.DateLayout)},
		"limit":  {strconv.Itoa(pageSize)},
		"offset": {"0"},
	}

	all := []source.RawWorklog{}
	for path != "" {
		var page worklogPage
		if err := c.http.GetJSON(ctx, path, query, &page); err != nil {
			return nil, fmt.Errorf("fetching tempo worklogs: %w", err)
		}
		all = append(all, page.Results...)
		// The next link carries its own query.
		path, query = page.Metadata.Next, nil
	}
	return all, nil
}
