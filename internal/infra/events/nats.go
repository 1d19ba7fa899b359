// Package events publishes account snapshots to NATS so that other
// services can follow balance changes without polling.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/workforce-ai/compute/internal/domain"
)

// DefaultSubjectPrefix is prepended to the identity to form the subject.
const DefaultSubjectPrefix = "compute.account"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Connect dials the NATS server at url.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Snapshot is the message published for every account change.
type Snapshot struct {
	Identity        string              `json:"identity"`
	LoggedOut       bool                `json:"logged_out,omitempty"`
	Balance         int64               `json:"balance"`
	LifetimeCredits int64               `json:"lifetime_credits"`
	LifetimeDebits  int64               `json:"lifetime_debits"`
	Entitlement     *domain.Entitlement `json:"entitlement,omitempty"`
	LastEntry       *domain.LedgerEntry `json:"last_entry,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Publisher turns ledger notifications into NATS messages.
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger

	// identity of the last published account, used for the logout message
	last string
}

// NewPublisher creates a publisher on conn. An empty prefix uses
// DefaultSubjectPrefix.
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject for identity. The identity is escaped into a
// single subject token.
func (p *Publisher) Subject(identity string) string {
	return p.prefix + "." + SubjectToken(identity)
}

// SubjectToken escapes identity for use as one NATS subject token. Bytes
// outside [A-Za-z0-9_-] become %XX, so distinct identities never share a
// token and no token contains '.', '*', '>' or whitespace.
func SubjectToken(identity string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(identity))
	for i := 0; i < len(identity); i++ {
		c := identity[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0F])
		}
	}
	if b.Len() == 0 {
		return "%"
	}
	return b.String()
}

// Listener returns a ledger listener that publishes every snapshot.
// A nil account publishes a logout message for the previous identity.
// Listener calls are serialized by the ledger, so no locking is needed.
func (p *Publisher) Listener() func(*domain.Account) {
	return func(acct *domain.Account) {
		if acct == nil {
			if p.last == "" {
				return
			}
			p.publish(Snapshot{Identity: p.last, LoggedOut: true, UpdatedAt: time.Now().UTC()})
			p.last = ""
			return
		}
		p.last = acct.Identity
		snap := Snapshot{
			Identity:        acct.Identity,
			Balance:         acct.Balance,
			LifetimeCredits: acct.LifetimeCredits,
			LifetimeDebits:  acct.LifetimeDebits,
			Entitlement:     acct.Entitlement,
			UpdatedAt:       acct.UpdatedAt,
		}
		if len(acct.History) > 0 {
			e := acct.History[0]
			snap.LastEntry = &e
		}
		p.publish(snap)
	}
}

func (p *Publisher) publish(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		p.logger.Error("encode account event", "identity", snap.Identity, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(snap.Identity), data); err != nil {
		p.logger.Warn("publish account event", "identity", snap.Identity, "error", err)
	}
}
