package events

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/workforce-ai/compute/internal/domain"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []message
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject, data})
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_Subject(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "compute.account.alice"},
		{"billing.acct", "billing.acct.alice"},
		{"billing.acct.", "billing.acct.alice"},
	}
	for _, tt := range tests {
		p := NewPublisher(&fakeConn{}, tt.prefix, quietLogger())
		if got := p.Subject("alice"); got != tt.want {
			t.Errorf("prefix %q: Subject() = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		identity string
		want     string
	}{
		{"alice", "alice"},
		{"team_a-1", "team_a-1"},
		{"a.b", "a%2Eb"},
		{"bob smith", "bob%20smith"},
		{"*", "%2A"},
		{">", "%3E"},
		{"50%", "50%25"},
		{"", "%"},
	}
	for _, tt := range tests {
		if got := SubjectToken(tt.identity); got != tt.want {
			t.Errorf("SubjectToken(%q) = %q, want %q", tt.identity, got, tt.want)
		}
	}
}

func TestPublisher_EscapesIdentityInSubject(t *testing.T) {
	conn := &fakeConn{}
	listen := NewPublisher(conn, "", quietLogger()).Listener()

	acct := domain.NewAccount("ops.team *", 10, time.Now())
	listen(&acct)
	listen(nil)

	if len(conn.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(conn.msgs))
	}
	for _, m := range conn.msgs {
		if m.subject != "compute.account.ops%2Eteam%20%2A" {
			t.Errorf("subject = %q", m.subject)
		}
	}
	var snap Snapshot
	if err := json.Unmarshal(conn.msgs[0].data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Identity != "ops.team *" {
		t.Errorf("payload identity = %q, want the raw identity", snap.Identity)
	}
}

func TestPublisher_PublishesSnapshots(t *testing.T) {
	conn := &fakeConn{}
	listen := NewPublisher(conn, "", quietLogger()).Listener()

	acct := domain.NewAccount("alice", 1000, time.Now())
	listen(&acct)

	acct.Balance = 975
	acct.Prepend(domain.LedgerEntry{ID: "e1", Kind: domain.EntryDebit, Amount: 25, Subject: "writing"}, 0)
	listen(&acct)

	if len(conn.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(conn.msgs))
	}
	if conn.msgs[1].subject != "compute.account.alice" {
		t.Errorf("subject = %q", conn.msgs[1].subject)
	}

	var snap Snapshot
	if err := json.Unmarshal(conn.msgs[1].data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Balance != 975 || snap.LastEntry == nil || snap.LastEntry.ID != "e1" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestPublisher_Logout(t *testing.T) {
	conn := &fakeConn{}
	listen := NewPublisher(conn, "", quietLogger()).Listener()

	// Logout with nothing published yet is silent.
	listen(nil)
	if len(conn.msgs) != 0 {
		t.Fatalf("published %d messages before login", len(conn.msgs))
	}

	acct := domain.NewAccount("bob", 10, time.Now())
	listen(&acct)
	listen(nil)

	if len(conn.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(conn.msgs))
	}
	var payload map[string]any
	json.Unmarshal(conn.msgs[1].data, &payload)
	if payload["identity"] != "bob" || payload["logged_out"] != true {
		t.Errorf("logout payload = %v", payload)
	}
	if conn.msgs[1].subject != "compute.account.bob" {
		t.Errorf("subject = %q", conn.msgs[1].subject)
	}
}

func TestPublisher_ErrorsDoNotPanic(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	listen := NewPublisher(conn, "", quietLogger()).Listener()
	acct := domain.NewAccount("alice", 1, time.Now())
	listen(&acct)
	listen(nil)
}
