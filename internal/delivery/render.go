package delivery

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/ppiankov/newsdigest/internal/model"
)

// RenderJSON renders the digest as indented JSON
func RenderJSON(d *Digest) ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal digest: %w", err)
	}
	return append(data, '\n'), nil
}

// RenderMarkdown renders the digest for reading. Text that came from email
// or the model is HTML-escaped so the output is safe to convert to HTML.
func RenderMarkdown(d *Digest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", html.EscapeString(d.Title))
	fmt.Fprintf(&b, "_%d stories · run %s · %s_\n\n", d.Metrics.TotalStories, d.RunID, d.Status)

	if len(d.Sections) == 0 {
		b.WriteString("No news today.\n")
	}

	for _, section := range d.Sections {
		fmt.Fprintf(&b, "## %s\n\n", section.Category)
		for _, story := range section.Stories {
			writeStory(&b, story)
		}
		if section.Overflow > 0 {
			fmt.Fprintf(&b, "_and %d more_\n\n", section.Overflow)
		}
	}

	if d.Run != nil && len(d.Run.Failures) > 0 {
		b.WriteString("---\n\n")
		fmt.Fprintf(&b, "%d items could not be processed:\n\n", len(d.Run.Failures))
		for _, f := range d.Run.Failures {
			target := f.ItemID
			if target == "" {
				target = f.Account
			}
			fmt.Fprintf(&b, "- %s `%s`: %s\n", f.Stage, html.EscapeString(target), f.Kind)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeStory(b *strings.Builder, story model.StoryCluster) {
	rep := story.Representative
	fmt.Fprintf(b, "### %s\n\n", html.EscapeString(rep.Title))
	if rep.Summary != "" {
		fmt.Fprintf(b, "%s\n\n", html.EscapeString(rep.Summary))
	}
	for _, point := range rep.KeyPoints {
		fmt.Fprintf(b, "- %s\n", html.EscapeString(point))
	}
	if len(rep.KeyPoints) > 0 {
		b.WriteString("\n")
	}

	var links []string
	for i, u := range story.SourceURLs {
		if i == 5 {
			break
		}
		links = append(links, fmt.Sprintf("[%d](%s)", i+1, html.EscapeString(u)))
	}
	sources := fmt.Sprintf("%d source", len(story.SourceMessageIDs))
	if len(story.SourceMessageIDs) != 1 {
		sources += "s"
	}
	if len(links) > 0 {
		sources += " · " + strings.Join(links, " ")
	}
	fmt.Fprintf(b, "_%s_\n\n", sources)
}
