package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/social-credit/internal/domain"
)

// Response is a chat reply in plain text and in HTML markup.
type Response struct {
	Plain string
	HTML  string
}

// Fixed replies.
const (
	msgNoScores      = "No scores"
	msgNoEmojis      = "No emojis, use the !help command to see how to add emojis"
	msgNotAdmin      = "Only admins can register emojis"
	msgRegisterUsage = "Usage: !register_emoji <emoji> <social credit>"

	editPrefix = "* "
)

var (
	listEmojiKeywords = map[string]bool{
		"!list_emoji": true, "!list-emoji": true, "!list_emojis": true, "!list-emojis": true,
	}
	registerKeywords = map[string]bool{
		"!register_emoji": true, "!register-emoji": true,
	}
)

var helpResponse = Response{
	Plain: "Social Credit System commands:\n" +
		"!help - show this message\n" +
		"!list - list the social credit of everyone in this room\n" +
		"!list_emoji - list the emojis that change social credit in this room\n" +
		"!register_emoji <emoji> <social credit> - register an emoji (admins only)",
	HTML: "<h3>Social Credit System commands:</h3>" +
		"<b>!help</b> - show this message<br>" +
		"<b>!list</b> - list the social credit of everyone in this room<br>" +
		"<b>!list_emoji</b> - list the emojis that change social credit in this room<br>" +
		"<b>!register_emoji &lt;emoji&gt; &lt;social credit&gt;</b> - register an emoji (admins only)",
}

// Dispatcher interprets "!" commands typed in a room.
type Dispatcher struct {
	Memberships *MembershipStore
	Emojis      *EmojiRegistry
}

// Dispatch runs the command in text on behalf of caller in roomID. It
// returns nil when text is not a recognized command. Storage failures are
// returned as errors and produce no reply.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, caller *domain.User, roomID string) (*Response, error) {
	body := strings.TrimPrefix(text, editPrefix)
	keyword, _, _ := strings.Cut(body, " ")

	ctx, span := otel.Tracer("services/Dispatcher").Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("command", keyword),
		),
	)
	defer span.End()

	switch {
	case keyword == "!help":
		r := helpResponse
		return &r, nil

	case keyword == "!list":
		entries, err := d.Memberships.Leaderboard(ctx, roomID)
		if err != nil {
			return nil, err
		}
		r := FormatScores(entries)
		return &r, nil

	case listEmojiKeywords[keyword]:
		emojis, err := d.Emojis.List(ctx, roomID)
		if err != nil {
			return nil, err
		}
		r := FormatEmojis(emojis)
		return &r, nil

	case registerKeywords[keyword]:
		r, err := d.register(ctx, body[len(keyword):], caller, roomID)
		if err != nil {
			return nil, err
		}
		return &r, nil
	}
	return nil, nil
}

func (d *Dispatcher) register(ctx context.Context, args string, caller *domain.User, roomID string) (Response, error) {
	if caller == nil || caller.Role != domain.RoleAdmin {
		return plain(msgNotAdmin), nil
	}
	glyph, delta, ok := ParseRegisterArgs(args)
	if !ok {
		return plain(msgRegisterUsage), nil
	}

	e, err := d.Emojis.Register(ctx, caller, roomID, glyph, delta)
	switch {
	case errors.Is(err, ErrDuplicateEmoji):
		return plain(fmt.Sprintf("Emoji %s is already registered", glyph)), nil
	case errors.Is(err, ErrNotAdmin):
		return plain(msgNotAdmin), nil
	case err != nil:
		return Response{}, err
	}
	return Response{
		Plain: fmt.Sprintf("Registered emoji %s with social credit %d", e.Glyph, e.ScoreDelta),
		HTML:  fmt.Sprintf("Registered emoji %s with social credit <b>%d</b>", html.EscapeString(e.Glyph), e.ScoreDelta),
	}, nil
}

// ParseRegisterArgs parses the text following the register keyword. It
// expects " <glyph> <integer>"; one extra leading space is tolerated.
func ParseRegisterArgs(args string) (glyph string, delta int, ok bool) {
	rest, found := strings.CutPrefix(args, " ")
	if !found {
		return "", 0, false
	}
	parts := strings.Split(rest, " ")
	if len(parts) == 3 && parts[0] == "" {
		parts = parts[1:]
	}
	if len(parts) != 2 {
		return "", 0, false
	}
	if parts[0] == "" || parts[0] == " " {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, false
	}
	return parts[0], n, true
}

// FormatScores renders a leaderboard, highest score first.
func FormatScores(entries []domain.ScoreEntry) Response {
	if len(entries) == 0 {
		return plain(msgNoScores)
	}
	sorted := append([]domain.ScoreEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	items := make([]string, 0, len(sorted))
	var h strings.Builder
	h.WriteString("<h3>Social Credit Scores:</h3>")
	for _, e := range sorted {
		items = append(items, fmt.Sprintf("%s: %d", e.Name, e.Score))
		fmt.Fprintf(&h, "%s: <b>%d</b><br>", html.EscapeString(e.Name), e.Score)
	}
	return Response{
		Plain: "Social Credit Scores: " + strings.Join(items, ","),
		HTML:  h.String(),
	}
}

// FormatEmojis renders the emoji table of a room, highest delta first.
func FormatEmojis(emojis []domain.Emoji) Response {
	if len(emojis) == 0 {
		return plain(msgNoEmojis)
	}
	sorted := append([]domain.Emoji(nil), emojis...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ScoreDelta > sorted[j].ScoreDelta })

	items := make([]string, 0, len(sorted))
	var h strings.Builder
	h.WriteString("<h3>Registered Emojis:</h3>")
	for _, e := range sorted {
		items = append(items, fmt.Sprintf("%s: %d", e.Glyph, e.ScoreDelta))
		fmt.Fprintf(&h, "%s: <b>%d</b><br>", html.EscapeString(e.Glyph), e.ScoreDelta)
	}
	return Response{
		Plain: "Registered Emojis: " + strings.Join(items, ","),
		HTML:  h.String(),
	}
}

func plain(s string) Response { return Response{Plain: s, HTML: html.EscapeString(s)} }
