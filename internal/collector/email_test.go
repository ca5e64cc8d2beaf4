package collector

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeIMAP scripts mailbox behavior for collector tests.
type fakeIMAP struct {
	loginErr   error
	uids       []uint32
	messages   []*imap.Message
	storeCalls int
	loggedOut  bool
}

func (f *fakeIMAP) Login(username, password string) error { return f.loginErr }

func (f *fakeIMAP) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	return &imap.MailboxStatus{Name: name}, nil
}

func (f *fakeIMAP) Search(criteria *imap.SearchCriteria) ([]uint32, error) {
	return f.uids, nil
}

func (f *fakeIMAP) Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	for _, msg := range f.messages {
		ch <- msg
	}
	close(ch)
	return nil
}

func (f *fakeIMAP) Store(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	f.storeCalls++
	if ch != nil {
		close(ch)
	}
	return nil
}

func (f *fakeIMAP) Logout() error {
	f.loggedOut = true
	return nil
}

// rawMessage builds an RFC 5322 message carrying one CSV attachment.
func rawMessage(csvContent string) string {
	return strings.Join([]string{
		"From: dispatch@example.com",
		"To: ops@example.com",
		"Subject: Daily Routes",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="frontier"`,
		"",
		"--frontier",
		"Content-Type: text/plain",
		"",
		"Routes attached.",
		"--frontier",
		"Content-Type: text/csv",
		`Content-Disposition: attachment; filename="routes.csv"`,
		"",
		csvContent,
		"--frontier--",
		"",
	}, "\r\n")
}

func imapMessage(seqNum uint32, raw string) *imap.Message {
	section := &imap.BodySectionName{}
	return &imap.Message{
		SeqNum: seqNum,
		Body: map[*imap.BodySectionName]imap.Literal{
			section: bytes.NewBufferString(raw),
		},
	}
}

func newEmailTestCollector(t *testing.T, fake *fakeIMAP) *EmailCollector {
	t.Helper()

	c := NewEmailCollector(EmailConfig{
		Name:          "dispatch-mail",
		Server:        "imap.example.com",
		Username:      "ops@example.com",
		Password:      "secret",
		AttachmentDir: t.TempDir(),
		MarkSeen:      true,
	}, zap.NewNop())
	c.dial = func(string) (imapClient, error) { return fake, nil }
	return c
}

func TestEmailCollectorCollect(t *testing.T) {
	fake := &fakeIMAP{
		uids: []uint32{1},
		messages: []*imap.Message{
			imapMessage(1, rawMessage("route_id,route_date,miles\nR-1,2024-03-15,250\nR-2,2024-03-16,310")),
		},
	}

	c := newEmailTestCollector(t, fake)
	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "R-1", result.Records[0]["route_id"])
	assert.Equal(t, 250.0, result.Records[0]["total_miles"])
	assert.Equal(t, 1, result.Metadata["attachments"])
	assert.Equal(t, 1, fake.storeCalls)
	assert.True(t, fake.loggedOut)
}

func TestEmailCollectorNoMessages(t *testing.T) {
	fake := &fakeIMAP{}

	c := newEmailTestCollector(t, fake)
	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusNoData, result.Status)
	assert.Zero(t, fake.storeCalls)
}

func TestEmailCollectorLoginFailure(t *testing.T) {
	fake := &fakeIMAP{loginErr: errors.New("authentication failed")}

	c := newEmailTestCollector(t, fake)
	_, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")
}

func TestEmailCollectorIgnoresUnsupportedAttachments(t *testing.T) {
	raw := strings.Join([]string{
		"From: dispatch@example.com",
		"Subject: Photo",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="frontier"`,
		"",
		"--frontier",
		"Content-Type: image/png",
		`Content-Disposition: attachment; filename="truck.png"`,
		"",
		"not-actually-a-png",
		"--frontier--",
		"",
	}, "\r\n")

	fake := &fakeIMAP{
		uids:     []uint32{1},
		messages: []*imap.Message{imapMessage(1, raw)},
	}

	c := newEmailTestCollector(t, fake)
	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, result.Status)
}

func TestEmailCollectorValidateConfiguration(t *testing.T) {
	base := EmailConfig{Name: "mail", Server: "imap.example.com", Username: "u", Password: "p"}
	assert.NoError(t, NewEmailCollector(base, zap.NewNop()).ValidateConfiguration())

	missing := base
	missing.Server = ""
	assert.Error(t, NewEmailCollector(missing, zap.NewNop()).ValidateConfiguration())

	missing = base
	missing.Password = ""
	assert.Error(t, NewEmailCollector(missing, zap.NewNop()).ValidateConfiguration())
}

func TestEmailCollectorBodyExtractionRules(t *testing.T) {
	raw := strings.Join([]string{
		"From: dispatch@example.com",
		"Subject: Route update",
		"MIME-Version: 1.0",
		"Content-Type: text/plain",
		"",
		"Route: R-88",
		"Date: 2024-03-20",
		"Miles: 412",
		"",
	}, "\r\n")

	fake := &fakeIMAP{
		uids:     []uint32{1},
		messages: []*imap.Message{imapMessage(1, raw)},
	}

	c := NewEmailCollector(EmailConfig{
		Name:          "dispatch-mail",
		Server:        "imap.example.com",
		Username:      "ops@example.com",
		Password:      "secret",
		AttachmentDir: t.TempDir(),
		ExtractionRules: map[string]string{
			"route_id":    `Route:\s*(\S+)`,
			"route_date":  `Date:\s*(\S+)`,
			"total_miles": `Miles:\s*(\d+)`,
		},
	}, zap.NewNop())
	c.dial = func(string) (imapClient, error) { return fake, nil }

	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "R-88", result.Records[0]["route_id"])
	assert.Equal(t, "2024-03-20", result.Records[0]["route_date"])
	assert.Equal(t, 412.0, result.Records[0]["total_miles"])
}

func TestEmailCollectorRejectsBadExtractionRule(t *testing.T) {
	c := NewEmailCollector(EmailConfig{
		Name:            "mail",
		Server:          "imap.example.com",
		Username:        "u",
		Password:        "p",
		ExtractionRules: map[string]string{"route_id": "("},
	}, zap.NewNop())

	assert.Error(t, c.ValidateConfiguration())
}
