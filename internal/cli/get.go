package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bovinelab/go-apicache/apierror"
	"github.com/bovinelab/go-apicache/resource"
	"github.com/bovinelab/go-apicache/transport"
	"github.com/spf13/cobra"
)

// getCommand creates the "get" command.
func (c *CLI) getCommand() *cobra.Command {
	var (
		params  []string
		ttl     time.Duration
		refresh bool
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Fetch a JSON resource through the cache",
		Example: `  apicache get /bulls/ -q skip=0 -q limit=100
  apicache get /reports/monthly --ttl 1h --refresh`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseQuery(params)
			if err != nil {
				return err
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					log.Errorw("Cannot close cache", "err", cerr)
				}
			}()

			path := args[0]
			fn := func(ctx context.Context, _ ...any) (json.RawMessage, error) {
				resp, err := a.client.Send(ctx, &transport.Request{Path: path, Query: query})
				if err != nil {
					return nil, err
				}
				if !json.Valid(resp.Body) {
					return nil, apierror.New(apierror.KindUnknown, resp.Status, errors.New("response is not JSON"))
				}
				return resp.Body, nil
			}

			options := []resource.Option[json.RawMessage]{resource.WithTTL[json.RawMessage](ttl)}
			if !noCache {
				options = append(options, resource.WithKey[json.RawMessage](path))
			}
			r, err := resource.New(a.fetcher, fn, options...)
			if err != nil {
				return err
			}

			if refresh && !noCache {
				key, err := resource.Key(path, query)
				if err != nil {
					return err
				}
				a.fetcher.InvalidateCache(key)
			}

			data, err := r.Execute(cmd.Context(), query)
			if err != nil {
				return describe(err)
			}
			return writeJSON(c, data)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "query", "q", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", resource.DefaultTTL, "how long the response stays cached")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore any cached response and fetch again")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the cache entirely")

	return cmd
}

func parseQuery(params []string) (url.Values, error) {
	query := url.Values{}
	for _, p := range params {
		key, val, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid query parameter %q, want key=value", p)
		}
		query.Add(key, val)
	}
	return query, nil
}

func writeJSON(c *CLI, data json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(c.out)
	return err
}

// describe logs the status and cause of an API error. The error itself prints
// only its user message.
func describe(err error) error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		log.Debugw("Request failed", "err", apiErr.Text())
	}
	return err
}
