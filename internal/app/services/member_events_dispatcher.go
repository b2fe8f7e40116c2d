package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/faeln1/membersync/internal/domain/member"
	"github.com/faeln1/membersync/pkg/webhooksig"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// MemberEventsDispatcher forwards applied member changes to a downstream webhook.
type MemberEventsDispatcher interface {
	Dispatch(ctx context.Context, events []member.ChangeEvent) error
}

type memberEventsDispatcher struct {
	client *resty.Client
	url    string
	token  string
	secret string
	log    waLog.Logger
}

// DefaultMemberEventsTimeout bounds one downstream post. Dispatch runs inline
// with the inbound webhook, so a slow receiver delays that response by at most
// this much.
const DefaultMemberEventsTimeout = 3 * time.Second

// NewMemberEventsDispatcher returns a dispatcher posting to url. An empty url
// yields a dispatcher that drops everything. When secret is set each request
// carries Standard Webhooks signature headers.
func NewMemberEventsDispatcher(url, token, secret string, timeout time.Duration, log waLog.Logger) MemberEventsDispatcher {
	if log == nil {
		log = waLog.Noop
	}
	if timeout <= 0 {
		timeout = DefaultMemberEventsTimeout
	}
	return &memberEventsDispatcher{
		client: resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		url:    strings.TrimSpace(url),
		token:  strings.TrimSpace(token),
		secret: strings.TrimSpace(secret),
		log:    log,
	}
}

func (d *memberEventsDispatcher) Dispatch(ctx context.Context, events []member.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	if d.url == "" {
		d.log.Debugf("member events webhook skipped: no URL configured")
		return nil
	}
	payload, err := json.Marshal(events)
	if err != nil {
		return err
	}

	req := d.client.R().SetContext(ctx).SetBody(payload)
	if d.token != "" {
		req.SetAuthToken(d.token)
	}
	if d.secret != "" {
		headers, err := webhooksig.Sign(d.secret, "evt_"+uuid.NewString(), time.Now(), payload)
		if err != nil {
			return fmt.Errorf("sign member events: %w", err)
		}
		for name := range headers {
			req.SetHeader(name, headers.Get(name))
		}
	}

	d.log.Debugf("Sending %d member event(s) to %s", len(events), d.url)
	resp, err := req.Post(d.url)
	if err != nil {
		return fmt.Errorf("post member events: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("member events webhook returned status %d", resp.StatusCode())
	}
	return nil
}
