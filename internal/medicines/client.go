// Package medicines looks up medicine name suggestions from the RxNorm
// spelling-suggestions API.
package medicines

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
)

// MinQueryLength is the shortest input worth a lookup.
const MinQueryLength = 2

type spellingResponse struct {
	SuggestionGroup struct {
		Name           string `json:"name"`
		SuggestionList struct {
			Suggestion []string `json:"suggestion"`
		} `json:"suggestionList"`
	} `json:"suggestionGroup"`
}

// Client talks to RxNav over HTTP.
type Client struct {
	http *resty.Client
}

func NewClient(cfg config.MedicinesConfig) *Client {
	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(1).
		SetHeader("Accept", "application/json")
	return &Client{http: http}
}

// Suggest returns spelling suggestions for partial. Inputs shorter than
// MinQueryLength return an empty list without a network call.
func (c *Client) Suggest(ctx context.Context, partial string) ([]string, error) {
	partial = strings.TrimSpace(partial)
	if len([]rune(partial)) < MinQueryLength {
		return []string{}, nil
	}

	var body spellingResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("name", partial).
		SetResult(&body).
		Get("/spellingsuggestions.json")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "medicine lookup failed")
	}
	if resp.IsError() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("medicine lookup returned %d", resp.StatusCode()))
	}

	out := body.SuggestionGroup.SuggestionList.Suggestion
	if out == nil {
		out = []string{}
	}
	return out, nil
}
