package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/msgweave/internal/engine"
	"github.com/roach88/msgweave/internal/model"
)

// TimelineOptions holds flags for the timeline command.
type TimelineOptions struct {
	*RootOptions
	Database   string
	Discussion int64
	At         string // reference time for relative timestamps (RFC 3339)
}

// TimelineRow is one displayed message.
type TimelineRow struct {
	PermanentID string            `json:"permanent_id"`
	Kind        string            `json:"kind"`
	Sender      string            `json:"sender,omitempty"`
	Sequence    int64             `json:"seq"`
	SortIndex   float64           `json:"sort_index"`
	Timestamp   time.Time         `json:"timestamp"`
	Body        string            `json:"body,omitempty"`
	Status      string            `json:"status"`
	Reply       string            `json:"reply"`
	Wiped       bool              `json:"wiped,omitempty"`
	Edited      bool              `json:"edited,omitempty"`
	Reactions   map[string]string `json:"reactions,omitempty"`

	relative string
}

// TimelineResult is a discussion's display order.
type TimelineResult struct {
	DiscussionID int64         `json:"discussion_id"`
	Title        string        `json:"title"`
	Rows         []TimelineRow `json:"rows"`
}

func (r TimelineResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "Discussion %d %q (%s message(s))\n", r.DiscussionID, r.Title, humanize.Comma(int64(len(r.Rows))))
	for _, row := range r.Rows {
		body := row.Body
		switch {
		case row.Wiped:
			body = "(wiped)"
		case row.Edited:
			body += " (edited)"
		}
		fmt.Fprintf(w, "  %-8s %s#%d  %-14s %-17s %s", row.Kind, row.Sender, row.Sequence, row.relative, row.Status, body)
		if row.Reply != string(model.ReplyNone) {
			fmt.Fprintf(w, "  reply:%s", row.Reply)
		}
		if len(row.Reactions) > 0 {
			parts := make([]string, 0, len(row.Reactions))
			for who, emoji := range row.Reactions {
				parts = append(parts, who+"="+emoji)
			}
			sort.Strings(parts)
			fmt.Fprintf(w, "  [%s]", strings.Join(parts, " "))
		}
		fmt.Fprintln(w)
	}
}

// DiscussionList is printed when no discussion is selected.
type DiscussionList struct {
	Discussions []DiscussionSummary `json:"discussions"`
}

// DiscussionSummary names one stored discussion.
type DiscussionSummary struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	OwnedIdentity string `json:"owned_identity"`
}

func (l DiscussionList) renderText(w io.Writer) {
	if len(l.Discussions) == 0 {
		fmt.Fprintln(w, "No discussions found in database.")
		return
	}
	for _, d := range l.Discussions {
		fmt.Fprintf(w, "%4d  %-24s owner=%s\n", d.ID, d.Title, d.OwnedIdentity)
	}
}

// NewTimelineCommand creates the timeline command.
func NewTimelineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TimelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show a discussion in display order",
		Long: `Show one discussion's messages in display order with their reading
or delivery status, reply state and live reactions.

Without --discussion, lists the stored discussions.

Examples:
  msgweave timeline --db ./msgweave.db
  msgweave timeline --db ./msgweave.db --discussion 3
  msgweave timeline --discussion 3 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTimeline(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: configured database_path)")
	cmd.Flags().Int64Var(&opts.Discussion, "discussion", 0, "discussion id")
	cmd.Flags().StringVar(&opts.At, "at", "", "reference time for relative timestamps (RFC 3339, default now)")

	return cmd
}

func runTimeline(opts *TimelineOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	now, err := parseAt(opts.At)
	if err != nil {
		return err
	}

	st, eng, err := opts.openEngine(ctx, cmd, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	f := newFormatter(opts.RootOptions, cmd)
	discussions, err := eng.Discussions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list discussions", err)
	}

	if opts.Discussion == 0 {
		list := DiscussionList{Discussions: make([]DiscussionSummary, 0, len(discussions))}
		for _, d := range discussions {
			list.Discussions = append(list.Discussions, DiscussionSummary{
				ID:            d.ID,
				Title:         d.Title,
				OwnedIdentity: string(d.OwnedIdentity),
			})
		}
		return f.Success(list)
	}

	var disc *model.Discussion
	for i := range discussions {
		if discussions[i].ID == opts.Discussion {
			disc = &discussions[i]
		}
	}
	if disc == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("discussion %d not found", opts.Discussion))
	}

	entries, err := eng.Timeline(ctx, disc.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load timeline", err)
	}

	result := TimelineResult{DiscussionID: disc.ID, Title: disc.Title, Rows: make([]TimelineRow, 0, len(entries))}
	for _, e := range entries {
		result.Rows = append(result.Rows, timelineRow(e, now))
	}
	return f.Success(result)
}

func timelineRow(e engine.TimelineEntry, now time.Time) TimelineRow {
	m := e.Message
	_, edited := m.LastEdit()
	row := TimelineRow{
		PermanentID: m.PermanentID.String(),
		Kind:        string(m.Kind),
		Sender:      string(m.Sender),
		Sequence:    m.Sequence,
		SortIndex:   m.SortIndex,
		Timestamp:   m.Timestamp,
		Body:        m.BodyText(),
		Reply:       string(e.Reply.Kind),
		Wiped:       m.IsWiped(),
		Edited:      edited,
		relative:    humanize.RelTime(m.Timestamp, now, "ago", "from now"),
	}
	switch {
	case m.Received != nil:
		row.Status = string(m.Received.Status)
	case m.Sent != nil:
		row.Status = string(m.Sent.Status)
	case m.System != nil:
		row.Status = m.System.Category
	}
	if len(e.Reactions) > 0 {
		row.Reactions = make(map[string]string, len(e.Reactions))
		for _, r := range e.Reactions {
			row.Reactions[string(r.Requester)] = r.Emoji
		}
	}
	return row
}

// parseAt parses an RFC 3339 reference time; empty means now.
func parseAt(at string) (time.Time, error) {
	if at == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "invalid --at time", err)
	}
	return t.UTC(), nil
}
