package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var errEnoughMessages = errors.New("enough messages")

// GmailSource reads messages through the Gmail API, one OAuth token file per account
type GmailSource struct {
	config      *oauth2.Config
	tokenFiles  map[string]string
	endpoint    string
	maxMessages int
	now         func() time.Time
	logger      zerolog.Logger
}

// GmailOption customizes a GmailSource
type GmailOption func(*GmailSource)

// WithGmailEndpoint points the client at another API root
func WithGmailEndpoint(endpoint string) GmailOption {
	return func(s *GmailSource) { s.endpoint = endpoint }
}

// WithMaxMessages caps the messages fetched per account
func WithMaxMessages(n int) GmailOption {
	return func(s *GmailSource) { s.maxMessages = n }
}

// NewGmailSource loads the OAuth client credentials and maps account labels to token files
func NewGmailSource(credentialsFile string, accounts []model.AccountConfig, logger zerolog.Logger, opts ...GmailOption) (*GmailSource, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read gmail credentials: %w", err)
	}
	config, err := google.ConfigFromJSON(data, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}

	s := &GmailSource{
		config:      config,
		tokenFiles:  make(map[string]string, len(accounts)),
		maxMessages: 200,
		now:         time.Now,
		logger:      logger,
	}
	for _, acct := range accounts {
		s.tokenFiles[acct.Name] = acct.TokenFile
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchRecent lists the account's messages newer than window and loads each one
func (s *GmailSource) FetchRecent(ctx context.Context, account string, window time.Duration) ([]model.Message, error) {
	tokenFile, ok := s.tokenFiles[account]
	if !ok {
		return nil, unavailable(account, fmt.Errorf("no token file configured"))
	}
	tok, err := readToken(tokenFile)
	if err != nil {
		return nil, &AccountError{Account: account, Kind: AuthExpired, Err: err}
	}

	opts := []option.ClientOption{option.WithHTTPClient(s.config.Client(ctx, tok))}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, unavailable(account, err)
	}

	since := s.now().Add(-window)
	var ids []string
	list := svc.Users.Messages.List("me").Q(fmt.Sprintf("after:%d", since.Unix()))
	err = list.Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if s.maxMessages > 0 && len(ids) >= s.maxMessages {
				return errEnoughMessages
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errEnoughMessages) {
		return nil, classifyGoogleError(account, err)
	}

	msgs := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		full, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			if IsAuthExpired(classifyGoogleError(account, err)) || ctx.Err() != nil {
				return nil, classifyGoogleError(account, err)
			}
			s.logger.Warn().Err(err).Str("account", account).Str("message", id).Msg("skipping message")
			continue
		}
		msg := convertGmailMessage(full, account)
		if within(msg.ReceivedAt, s.now(), window) {
			msgs = append(msgs, msg)
		}
	}

	model.SortMessages(msgs)
	return msgs, nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s holds no credentials", path)
	}
	return &tok, nil
}

// classifyGoogleError maps API and OAuth failures to account error kinds
func classifyGoogleError(account string, err error) *AccountError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return &AccountError{Account: account, Kind: AuthExpired, Err: err}
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) && (ge.Code == http.StatusUnauthorized || ge.Code == http.StatusForbidden) {
		return &AccountError{Account: account, Kind: AuthExpired, Err: err}
	}
	return unavailable(account, err)
}

func convertGmailMessage(m *gmail.Message, account string) model.Message {
	msg := model.Message{
		ID:         m.Id,
		Account:    account,
		ReceivedAt: time.UnixMilli(m.InternalDate).UTC(),
		Size:       int(m.SizeEstimate),
		Snippet:    m.Snippet,
	}
	if m.Payload == nil {
		return msg
	}
	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "from":
			msg.Sender = h.Value
		}
	}

	plain := findPart(m.Payload, "text/plain")
	htmlBody := findPart(m.Payload, "text/html")
	switch {
	case strings.TrimSpace(plain) != "":
		msg.Body = plain
	case htmlBody != "":
		msg.Body = HTMLToText(htmlBody)
	default:
		msg.Body = m.Snippet
	}
	if htmlBody != "" {
		msg.Links = ExtractLinks(htmlBody)
	}
	return msg
}

// findPart returns the decoded body of the first part with the given MIME type
func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		if data, err := decodeBase64URL(part.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, child := range part.Parts {
		if body := findPart(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
