// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/taibuivan/releasewatch/internal/platform/ctxutil"
	"github.com/taibuivan/releasewatch/internal/release"
	"github.com/taibuivan/releasewatch/pkg/slice"
)

var digestTemplate = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<body>
<h2>{{len .Rows}} upcoming release{{if ne (len .Rows) 1}}s{{end}}</h2>
<table cellpadding="6" cellspacing="0" border="1">
<tr><th>Date</th><th>Title</th><th>Release</th><th>Platform</th></tr>
{{range .Rows}}<tr>
<td>{{.Date}}</td>
<td>{{if .URL}}<a href="{{.URL}}">{{.Title}}</a>{{else}}{{.Title}}{{end}}{{if .TitleEn}}<br><small>{{.TitleEn}}</small>{{end}}</td>
<td>{{.Label}}</td>
<td>{{.Platform}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))

type digestRow struct {
	Date     string
	Title    string
	TitleEn  string
	Label    string
	Platform string
	URL      string
}

// RenderDigest builds the email for one batch of releases.
func RenderDigest(to []string, releases []release.Release) (Message, error) {
	rows := slice.Map(releases, func(r release.Release) digestRow {
		row := digestRow{
			Title:    r.WorkTitle,
			TitleEn:  r.WorkTitleEn,
			Label:    Label(r),
			Platform: r.Platform,
			URL:      r.SourceURL,
		}
		if r.ReleaseDate != nil {
			row.Date = r.ReleaseDate.Format("2006-01-02 (Mon)")
		}
		return row
	})

	var body bytes.Buffer
	if err := digestTemplate.Execute(&body, struct{ Rows []digestRow }{rows}); err != nil {
		return Message{}, fmt.Errorf("notify: render digest: %w", err)
	}

	subject := fmt.Sprintf("[releasewatch] %s", Headline(releases[0]))
	if len(releases) > 1 {
		subject = fmt.Sprintf("[releasewatch] %s and %d more", Headline(releases[0]), len(releases)-1)
	}

	return Message{To: to, Subject: subject, HTMLBody: body.String()}, nil
}

// dispatchEmail sends due releases in batches of Options.BatchSize. A batch
// succeeds or fails as a whole.
func (d *Dispatcher) dispatchEmail(ctx context.Context) (ChannelSummary, error) {
	t := &tally{}
	if d.mail == nil {
		return t.summary(), nil
	}

	pending, err := d.pending(ctx, release.ChannelEmail)
	if err != nil {
		return t.summary(), err
	}
	t.sum.Pending = len(pending)

	logger := ctxutil.GetLogger(ctx)

	remaining := len(pending)
	for _, batch := range slice.Chunk(pending, d.opts.BatchSize) {
		if d.opts.MailLimiter != nil {
			if err := d.opts.MailLimiter.Acquire(ctx); err != nil {
				logger.Warn("dispatch_deferred", slog.String("channel", "email"), slog.Any("error", err))
				t.skip(remaining)
				break
			}
		}

		msg, err := RenderDigest(d.opts.Recipients, slice.Map(batch, func(p release.Pending) release.Release { return p.Release }))
		if err != nil {
			return t.summary(), err
		}

		sendErr := d.mail.Send(ctx, msg)
		if sendErr != nil && ctx.Err() != nil {
			// Aborted mid-send: nothing is recorded, the batch stays pending.
			t.skip(remaining)
			break
		}

		attemptedAt := d.opts.Clock()
		for _, p := range batch {
			outcome, err := d.record(ctx, p, release.ChannelEmail, "", sendErr, attemptedAt)
			if err != nil {
				return t.summary(), err
			}
			t.add(outcome)
		}
		remaining -= len(batch)
	}

	return t.summary(), nil
}
