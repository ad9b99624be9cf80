package pipeline

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/newsdigest/internal/llm"
	"github.com/ppiankov/newsdigest/internal/model"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	classificationSchema = mustSchema("classification")
	extractionSchema     = mustSchema("extraction")
	groupingSchema       = mustSchema("grouping")
)

func mustSchema(name string) *llm.Schema {
	raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		panic(fmt.Sprintf("pipeline: missing schema %s: %v", name, err))
	}
	return llm.NewSchema(name, string(raw))
}

// TruncatedMarker is appended to bodies cut to the configured length
const TruncatedMarker = "[TRUNCATED]"

// TruncateBody cuts text to at most limit runes and marks the cut.
// A non-positive limit disables truncation.
func TruncateBody(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "\n\n" + TruncatedMarker
}

const classifySystem = `You classify emails for a daily news digest.
Decide whether the email's main purpose is to report or analyse current events
(news alerts, newsletters, market or policy briefings). Receipts, promotions,
account notices and personal mail are not newsworthy.
Label the email with one or more of these categories, strongest first:
AI, Economy, Stocks, Private Equity, Politics, Technology, Other.
Give each label and the overall decision a confidence between 0 and 1.`

func classifyPrompt(msg model.Message, maxBody int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "From: %s\n", msg.Sender)
	fmt.Fprintf(&b, "Date: %s\n\n", msg.ReceivedAt.UTC().Format("2006-01-02 15:04 MST"))
	b.WriteString(TruncateBody(msg.Body, maxBody))
	return b.String()
}

const maxPromptLinks = 40

const extractSystem = `You split one email into the distinct news stories it reports.
Extract each standalone story separately; a single-story email yields one item.
Give every story a clear title, a short summary, a few key points and the URLs
that belong to it. Skip headers, footers, advertisements and unsubscribe text.
If the email contains no concrete story, return an empty "stories" list.`

var categoryFocus = map[model.Category]string{
	model.CategoryAI:            "Focus on model releases, research results and company strategy in AI. Keep model names and benchmark figures.",
	model.CategoryEconomy:       "Focus on macroeconomic data and central bank policy. Keep figures, reporting agencies and periods.",
	model.CategoryStocks:        "Focus on earnings, analyst ratings and deals. Keep company names with tickers and financial figures.",
	model.CategoryPrivateEquity: "Focus on deals, fundraising and buyouts. Keep firm names, fund names and amounts.",
	model.CategoryPolitics:      "Focus on legislation, regulation and government decisions. Keep bill names, agencies and officials.",
	model.CategoryTechnology:    "Focus on product launches, infrastructure and partnerships. Keep product names, versions and dates.",
}

// extractInstruction returns the extraction system prompt for an item's primary category
func extractInstruction(category model.Category) string {
	focus, ok := categoryFocus[category]
	if !ok {
		return extractSystem
	}
	return extractSystem + "\n\nCategory: " + string(category) + "\n" + focus
}

func extractPrompt(item model.ClassifiedItem, maxBody int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", item.Message.Subject)
	fmt.Fprintf(&b, "From: %s\n", item.Message.Sender)
	fmt.Fprintf(&b, "Email category: %s\n\n", item.PrimaryCategory())
	b.WriteString(TruncateBody(item.Message.Body, maxBody))
	if links := item.Message.Links; len(links) > 0 {
		if len(links) > maxPromptLinks {
			links = links[:maxPromptLinks]
		}
		b.WriteString("\n\nLinks in the email:\n")
		for _, l := range links {
			b.WriteString("- " + l + "\n")
		}
	}
	return b.String()
}

const groupSystem = `You group news stories that describe the same real-world event.
Stories are numbered from 0. Different wording, sources or angles on the same
event belong together; related but distinct events do not.
Return "groups": a list of index lists. Every index appears in exactly one
group; a story with no match is a group of one.`

type groupingEntry struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func groupPrompt(cands []model.StoryCandidate) string {
	entries := make([]groupingEntry, len(cands))
	for i, c := range cands {
		entries[i] = groupingEntry{Index: i, Title: c.Title, Summary: c.Summary}
	}
	data, _ := json.MarshalIndent(entries, "", "  ")
	return "Group these stories:\n" + string(data)
}
