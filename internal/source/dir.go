package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/rs/zerolog"
)

// DirSource reads exported messages from <root>/<account>/*.json. A file
// holds one message object or an array of them.
type DirSource struct {
	root   string
	now    func() time.Time
	logger zerolog.Logger
}

// NewDirSource creates a directory-backed source
func NewDirSource(root string, logger zerolog.Logger) *DirSource {
	return &DirSource{root: root, now: time.Now, logger: logger}
}

type dirMessage struct {
	model.Message
	From     string `json:"from"`
	BodyHTML string `json:"body_html"`
}

// FetchRecent returns the account's messages received within window
func (s *DirSource) FetchRecent(ctx context.Context, account string, window time.Duration) ([]model.Message, error) {
	dir := filepath.Join(s.root, account)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, unavailable(account, err)
	}
	if !info.IsDir() {
		return nil, unavailable(account, fmt.Errorf("%s is not a directory", dir))
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, unavailable(account, err)
	}
	sort.Strings(files)

	now := s.now()
	var msgs []model.Message
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, unavailable(account, err)
		}
		batch, err := readMessageFile(file)
		if err != nil {
			s.logger.Warn().Err(err).Str("account", account).Str("file", file).Msg("skipping unreadable message file")
			continue
		}
		base := strings.TrimSuffix(filepath.Base(file), ".json")
		for i, dm := range batch {
			msg := normalizeDirMessage(dm, account, base, i, len(batch))
			if within(msg.ReceivedAt, now, window) {
				msgs = append(msgs, msg)
			}
		}
	}

	model.SortMessages(msgs)
	return msgs, nil
}

func readMessageFile(path string) ([]dirMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var batch []dirMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
		return batch, nil
	}
	var one dirMessage
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return []dirMessage{one}, nil
}

func normalizeDirMessage(dm dirMessage, account, base string, i, n int) model.Message {
	msg := dm.Message
	msg.Account = account
	if msg.ID == "" {
		msg.ID = base
		if n > 1 {
			msg.ID = fmt.Sprintf("%s-%d", base, i)
		}
	}
	if msg.Sender == "" {
		msg.Sender = dm.From
	}
	if strings.TrimSpace(msg.Body) == "" && dm.BodyHTML != "" {
		msg.Body = HTMLToText(dm.BodyHTML)
	}
	if len(msg.Links) == 0 && dm.BodyHTML != "" {
		msg.Links = ExtractLinks(dm.BodyHTML)
	}
	if msg.Size == 0 {
		msg.Size = len(msg.Body) + len(dm.BodyHTML)
	}
	return msg
}
