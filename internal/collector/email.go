package collector

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
)

// EmailConfig configures an IMAP attachment collector. The password arrives
// through configuration and is never logged.
type EmailConfig struct {
	Name          string            `mapstructure:"name"`
	Server        string            `mapstructure:"server"`
	Port          int               `mapstructure:"port"`
	Username      string            `mapstructure:"username"`
	Password      string            `mapstructure:"password"`
	Mailbox       string            `mapstructure:"mailbox"`
	SubjectFilter string            `mapstructure:"subject_filter"`
	SenderFilter  string            `mapstructure:"sender_filter"`
	AttachmentDir string            `mapstructure:"attachment_dir"`
	FieldMap      map[string]string `mapstructure:"field_map"`
	MarkSeen      bool              `mapstructure:"mark_seen"`
	MaxMessages   int               `mapstructure:"max_messages"`

	// ExtractionRules map canonical fields to regex patterns applied to
	// the message text when a message carries no parseable attachment.
	// A pattern's first capture group becomes the field value.
	ExtractionRules map[string]string `mapstructure:"extraction_rules"`
}

// EmailCollector fetches unread messages over IMAP, saves their spreadsheet
// attachments, and parses them with the file parsers.
type EmailCollector struct {
	config       EmailConfig
	standardizer *standardizer
	rules        map[string]*regexp.Regexp
	ruleErr      error
	logger       *zap.Logger

	// dial is replaceable in tests.
	dial func(addr string) (imapClient, error)
}

// imapClient is the subset of the IMAP client the collector uses.
type imapClient interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Store(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
}

// NewEmailCollector creates an email collector.
func NewEmailCollector(config EmailConfig, logger *zap.Logger) *EmailCollector {
	if config.Port == 0 {
		config.Port = 993
	}
	if config.Mailbox == "" {
		config.Mailbox = "INBOX"
	}
	if config.MaxMessages == 0 {
		config.MaxMessages = 50
	}
	if config.AttachmentDir == "" {
		config.AttachmentDir = os.TempDir()
	}

	c := &EmailCollector{
		config: config,
		standardizer: newStandardizer(config.Name,
			[]string{"route_id", "route_date"}, config.FieldMap, logger),
		rules:  make(map[string]*regexp.Regexp, len(config.ExtractionRules)),
		logger: logger,
		dial: func(addr string) (imapClient, error) {
			return client.DialTLS(addr, nil)
		},
	}

	for field, pattern := range config.ExtractionRules {
		re, err := regexp.Compile(pattern)
		if err != nil {
			c.ruleErr = fmt.Errorf("extraction rule %s: %w", field, err)
			continue
		}
		c.rules[field] = re
	}
	return c
}

func (c *EmailCollector) Name() string { return c.config.Name }

func (c *EmailCollector) RequiredFields() []string { return []string{"route_id", "route_date"} }

// Standardize converts one raw extracted record to the canonical schema.
func (c *EmailCollector) Standardize(record map[string]interface{}) (map[string]interface{}, error) {
	return c.standardizer.standardize(record)
}

// ValidateConfiguration checks the IMAP settings.
func (c *EmailCollector) ValidateConfiguration() error {
	if c.config.Name == "" {
		return fmt.Errorf("collector name is required")
	}
	if c.config.Server == "" {
		return fmt.Errorf("server is required")
	}
	if c.config.Username == "" || c.config.Password == "" {
		return fmt.Errorf("username and password are required")
	}
	if c.ruleErr != nil {
		return c.ruleErr
	}
	return nil
}

// TestConnection logs in and selects the mailbox.
func (c *EmailCollector) TestConnection(_ context.Context) error {
	cl, err := c.connect()
	if err != nil {
		return err
	}
	defer cl.Logout()

	if _, err := cl.Select(c.config.Mailbox, true); err != nil {
		return fmt.Errorf("selecting mailbox %s: %w", c.config.Mailbox, err)
	}
	return nil
}

// Collect fetches unseen messages matching the filters, extracts spreadsheet
// attachments, and parses them.
func (c *EmailCollector) Collect(ctx context.Context) (*Result, error) {
	cl, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer cl.Logout()

	if _, err := cl.Select(c.config.Mailbox, false); err != nil {
		return nil, fmt.Errorf("selecting mailbox %s: %w", c.config.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if c.config.SubjectFilter != "" {
		criteria.Header.Set("Subject", c.config.SubjectFilter)
	}
	if c.config.SenderFilter != "" {
		criteria.Header.Set("From", c.config.SenderFilter)
	}

	uids, err := cl.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("searching mailbox: %w", err)
	}
	if len(uids) == 0 {
		return buildResult(c.config.Name, 0, nil, nil,
			map[string]interface{}{"messages": 0}), nil
	}
	if len(uids) > c.config.MaxMessages {
		uids = uids[:c.config.MaxMessages]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	section := &imap.BodySectionName{}
	if err := cl.Fetch(seqset, []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope}, messages); err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	var raw []map[string]interface{}
	var errs []string
	attachments := 0

	for msg := range messages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		body := msg.GetBody(section)
		if body == nil {
			continue
		}

		records, count, err := c.extractMessage(body)
		if err != nil {
			errs = append(errs, fmt.Sprintf("message %d: %v", msg.SeqNum, err))
			continue
		}
		raw = append(raw, records...)
		attachments += count
	}

	if c.config.MarkSeen {
		flags := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := cl.Store(seqset, flags, []interface{}{imap.SeenFlag}, nil); err != nil {
			c.logger.Warn("unable to mark messages seen", zap.Error(err))
		}
	}

	records, standardizeErrs := c.standardizer.standardizeBatch(raw)
	errs = append(errs, standardizeErrs...)

	c.logger.Info("email collection complete",
		zap.String("collector", c.config.Name),
		zap.Int("messages", len(uids)),
		zap.Int("attachments", attachments),
		zap.Int("standardized", len(records)))

	return buildResult(c.config.Name, len(raw), records, errs, map[string]interface{}{
		"messages":    len(uids),
		"attachments": attachments,
	}), nil
}

func (c *EmailCollector) connect() (imapClient, error) {
	addr := fmt.Sprintf("%s:%d", c.config.Server, c.config.Port)
	cl, err := c.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.config.Server, err)
	}

	if err := cl.Login(c.config.Username, c.config.Password); err != nil {
		cl.Logout()
		return nil, fmt.Errorf("imap login failed for %s: %w", c.config.Name, err)
	}
	return cl, nil
}

// extractMessage walks a message body, saves parseable attachments and runs
// them through the file parsers. When a message carries no usable
// attachment, the configured extraction rules run against its text parts.
func (c *EmailCollector) extractMessage(body io.Reader) ([]map[string]interface{}, int, error) {
	mr, err := mail.CreateReader(body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading message: %w", err)
	}

	var records []map[string]interface{}
	var bodyText strings.Builder
	count := 0

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return records, count, fmt.Errorf("reading part: %w", err)
		}

		header, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			if inline, ok := part.Header.(*mail.InlineHeader); ok {
				if ct, _, _ := inline.ContentType(); strings.HasPrefix(ct, "text/") {
					if text, err := io.ReadAll(part.Body); err == nil {
						bodyText.Write(text)
						bodyText.WriteByte('\n')
					}
				}
			}
			continue
		}

		filename, err := header.Filename()
		if err != nil || filename == "" {
			continue
		}

		ext := strings.ToLower(filepath.Ext(filename))
		if ext != ".csv" && ext != ".xlsx" && ext != ".json" {
			continue
		}

		path := filepath.Join(c.config.AttachmentDir, fmt.Sprintf("%d_%s",
			time.Now().UnixNano(), filepath.Base(filename)))
		if err := saveAttachment(path, part.Body); err != nil {
			c.logger.Warn("unable to save attachment", zap.String("filename", filename), zap.Error(err))
			continue
		}

		parsed, err := parseByExtension(path)
		os.Remove(path)
		if err != nil {
			c.logger.Warn("unable to parse attachment", zap.String("filename", filename), zap.Error(err))
			continue
		}

		records = append(records, parsed...)
		count++
	}

	if len(records) == 0 && len(c.rules) > 0 {
		if record := c.extractFromText(bodyText.String()); record != nil {
			records = append(records, record)
		}
	}

	return records, count, nil
}

// extractFromText applies the extraction rules to message text, building
// one record from the fields that match.
func (c *EmailCollector) extractFromText(text string) map[string]interface{} {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	record := make(map[string]interface{})
	for field, re := range c.rules {
		m := re.FindStringSubmatch(text)
		switch {
		case len(m) > 1:
			record[field] = strings.TrimSpace(m[1])
		case len(m) == 1:
			record[field] = strings.TrimSpace(m[0])
		}
	}

	if len(record) == 0 {
		return nil
	}
	return record
}

func parseByExtension(path string) ([]map[string]interface{}, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseCSV(path)
	case ".xlsx":
		return parseExcel(path)
	case ".json":
		return parseJSON(path)
	default:
		return nil, fmt.Errorf("unsupported attachment type")
	}
}

func saveAttachment(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	return err
}
