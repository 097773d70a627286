package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"trendbot/internal/insta"
	"trendbot/internal/storage"
	"trendbot/internal/trend"
	"trendbot/pkg/logx"
)

type fakeSender struct {
	msgs    []string
	failFor map[string]bool // fail when the message contains this substring
}

func (s *fakeSender) SendText(ctx context.Context, chatID int64, text string) error {
	for sub := range s.failFor {
		if strings.Contains(text, sub) {
			return errors.New("telegram unavailable")
		}
	}
	s.msgs = append(s.msgs, text)
	return nil
}

type fakeLedger struct {
	recorded []string
	errFor   map[string]error
}

func (l *fakeLedger) RecordSent(ctx context.Context, userID int64, url, accountName string) error {
	if err := l.errFor[url]; err != nil {
		return err
	}
	l.recorded = append(l.recorded, url)
	return nil
}

func assessment(url string, cat trend.Category) trend.Assessment {
	return trend.Assessment{
		Item:     insta.ActivityItem{Owner: "acct", URL: url, Views: 1200, Likes: 340, Comments: 12},
		Category: cat,
		Reason:   "views outpaced the usual x3 reach",
	}
}

func TestDispatchCapsPerRun(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	l := &fakeLedger{}
	d := NewDispatcher(s, l, 5, logx.Nop())

	var batch []trend.Assessment
	for i := 0; i < 8; i++ {
		batch = append(batch, assessment(fmt.Sprintf("https://r/%d", i), trend.High))
	}

	sent := d.Dispatch(context.Background(), 1, batch)
	if sent != 5 {
		t.Fatalf("sent = %d, want capped at 5", sent)
	}
	// Title plus five items.
	if len(s.msgs) != 6 {
		t.Fatalf("messages = %d, want 6", len(s.msgs))
	}
	if s.msgs[0] != msgTitle {
		t.Fatalf("first message = %q, want title", s.msgs[0])
	}
	// The cap keeps the head of the list, which arrives best-first.
	if len(l.recorded) != 5 || l.recorded[0] != "https://r/0" || l.recorded[4] != "https://r/4" {
		t.Fatalf("recorded = %v", l.recorded)
	}
}

func TestDispatchEmptySendsNotice(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	l := &fakeLedger{}
	d := NewDispatcher(s, l, 5, logx.Nop())

	sent := d.Dispatch(context.Background(), 1, nil)
	if sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
	if len(s.msgs) != 1 || s.msgs[0] != msgNoTrends {
		t.Fatalf("messages = %v, want only the no-trends notice", s.msgs)
	}
	if len(l.recorded) != 0 {
		t.Fatal("notice must not touch the ledger")
	}
}

func TestDispatchSendFailureIsolated(t *testing.T) {
	t.Parallel()
	s := &fakeSender{failFor: map[string]bool{"https://bad/": true}}
	l := &fakeLedger{}
	d := NewDispatcher(s, l, 5, logx.Nop())

	batch := []trend.Assessment{
		assessment("https://good1/", trend.High),
		assessment("https://bad/", trend.High),
		assessment("https://good2/", trend.Medium),
	}

	sent := d.Dispatch(context.Background(), 1, batch)
	if sent != 2 {
		t.Fatalf("sent = %d, want the two deliverable items", sent)
	}
	if len(l.recorded) != 2 || l.recorded[0] != "https://good1/" || l.recorded[1] != "https://good2/" {
		t.Fatalf("recorded = %v", l.recorded)
	}
}

func TestDispatchDuplicateNotCounted(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	l := &fakeLedger{errFor: map[string]error{"https://dup/": storage.ErrAlreadySent}}
	d := NewDispatcher(s, l, 5, logx.Nop())

	batch := []trend.Assessment{
		assessment("https://dup/", trend.High),
		assessment("https://new/", trend.High),
	}

	sent := d.Dispatch(context.Background(), 1, batch)
	if sent != 1 {
		t.Fatalf("sent = %d, want duplicates excluded from the count", sent)
	}
	if len(l.recorded) != 1 || l.recorded[0] != "https://new/" {
		t.Fatalf("recorded = %v", l.recorded)
	}
}

func TestDispatchLedgerFailureContinues(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	l := &fakeLedger{errFor: map[string]error{"https://flaky/": errors.New("db locked")}}
	d := NewDispatcher(s, l, 5, logx.Nop())

	batch := []trend.Assessment{
		assessment("https://flaky/", trend.High),
		assessment("https://fine/", trend.High),
	}

	if sent := d.Dispatch(context.Background(), 1, batch); sent != 1 {
		t.Fatalf("sent = %d, want 1 recorded despite the ledger error", sent)
	}
}

func TestFormatAssessment(t *testing.T) {
	t.Parallel()
	a := assessment("https://www.instagram.com/reel/abc/", trend.UltraTrend)
	a.FollowerCount = 12345

	got := formatAssessment(a)
	for _, want := range []string{
		"*@acct*",
		"UltraTrend",
		"https://www.instagram.com/reel/abc/",
		"x3 reach",
		"1,200",
		"12,345",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatted message missing %q:\n%s", want, got)
		}
	}
}
