// Package threadtext parses discussion threads pasted as plain text from
// Reddit's web UI into a post and its comments, ready for ingest. The
// format is the noisy copy-paste output of a thread page: the post title
// and body first, then comment blocks introduced by a "u/<name> avatar"
// line, interleaved with vote widgets and navigation chrome.
package threadtext

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/thebtf/bubbles/pkg/models"
)

// Post is the parsed thread header.
type Post struct {
	Title     string
	Body      string
	CreatedAt string
}

// Comment is one parsed comment with its author and a timestamp recovered
// from the thread's relative times ("3h ago").
type Comment struct {
	Author    models.Author
	Text      string
	CreatedAt string
	endLine   int
}

// chrome lines the web UI injects between content, dropped during parsing.
var chromeLines = map[string]bool{
	"Upvote":                true,
	"Downvote":              true,
	"Go to comments":        true,
	"Share":                 true,
	"Sort by:":              true,
	"Best":                  true,
	"Search Comments":       true,
	"Expand comment search": true,
	"Comments Section":      true,
	"More replies":          true,
}

var (
	usernameRe = regexp.MustCompile(`u/(\S+)`)
	relTimeRes = []struct {
		re   *regexp.Regexp
		unit time.Duration
	}{
		{regexp.MustCompile(`(\d+)\s*y(?:ear|r)?s?\s*ago`), 365 * 24 * time.Hour},
		{regexp.MustCompile(`(\d+)\s*mo(?:nth|n)?s?\s*ago`), 30 * 24 * time.Hour},
		{regexp.MustCompile(`(\d+)\s*w(?:eek|k)?s?\s*ago`), 7 * 24 * time.Hour},
		{regexp.MustCompile(`(\d+)\s*d(?:ay)?s?\s*ago`), 24 * time.Hour},
		{regexp.MustCompile(`(\d+)\s*h(?:our|r)?s?\s*ago`), time.Hour},
		{regexp.MustCompile(`(\d+)\s*m(?:inute|in)?s?\s*ago`), time.Minute},
	}
	digitsRe = regexp.MustCompile(`^\d+$`)
)

// Parse splits raw thread text into the post header and its comments.
// base anchors the relative timestamps; comments keep their order of
// appearance, which is the thread's display order.
func Parse(text string, base time.Time) (Post, []Comment) {
	lines := strings.Split(text, "\n")
	post := parsePost(lines, base)
	comments := parseComments(lines, base)
	return post, comments
}

// parsePost takes the first non-chrome line as the title and everything up
// to the first comment block or chrome marker as the body.
func parsePost(lines []string, base time.Time) Post {
	var title string
	var bodyLines []string
	inBody := false

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if title == "" {
			if !isCommentHeader(line) {
				title = line
				inBody = true
			}
			continue
		}

		if inBody {
			if isCommentHeader(line) || chromeLines[line] || strings.HasPrefix(line, "Archived post") {
				break
			}
			bodyLines = append(bodyLines, line)
		}
	}

	body := strings.TrimSpace(strings.Join(bodyLines, "\n\n"))
	if body == "" {
		body = title
	}
	if title == "" {
		title = "Imported Thread"
	}

	return Post{
		Title:     title,
		Body:      body,
		CreatedAt: base.UTC().Format(time.RFC3339),
	}
}

func parseComments(lines []string, base time.Time) []Comment {
	var comments []Comment
	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if !isCommentHeader(line) {
			i++
			continue
		}
		c, ok := parseCommentBlock(lines, i, base)
		if !ok {
			i++
			continue
		}
		comments = append(comments, c)
		i = c.endLine
	}
	return comments
}

// parseCommentBlock parses one comment starting at the "u/<name> avatar"
// line. Blocks without body text, and deleted comments, are skipped.
func parseCommentBlock(lines []string, start int, base time.Time) (Comment, bool) {
	m := usernameRe.FindStringSubmatch(lines[start])
	if m == nil {
		return Comment{}, false
	}
	username := m[1]

	var (
		isOP         bool
		timeStr      string
		textLines    []string
		inText       bool
		seenUsername bool
		seenTime     bool
	)

	i := start + 1
	end := start
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])

		switch {
		case line == "":
			if inText {
				textLines = append(textLines, "")
			}
			i++
			continue
		case line == "OP":
			isOP = true
			i++
			continue
		case line == username && !seenUsername:
			seenUsername = true
			i++
			continue
		case line == "•":
			i++
			continue
		case !seenTime && strings.Contains(strings.ToLower(line), "ago"):
			timeStr = line
			seenTime = true
			inText = true
			i++
			continue
		case strings.HasPrefix(line, "Edited"):
			i++
			continue
		case line == "Upvote" || line == "Downvote":
			end = i
			return finishComment(username, isOP, timeStr, textLines, base, end)
		case isCommentHeader(line):
			end = i
			return finishComment(username, isOP, timeStr, textLines, base, end)
		}

		if inText && !chromeLines[line] && !isVoteCount(lines, i) {
			textLines = append(textLines, line)
		}
		i++
		end = i
	}

	return finishComment(username, isOP, timeStr, textLines, base, end)
}

func finishComment(username string, isOP bool, timeStr string, textLines []string, base time.Time, end int) (Comment, bool) {
	text := strings.TrimSpace(strings.Join(textLines, "\n"))
	if text == "" || text == "[deleted]" || text == "More replies" {
		return Comment{}, false
	}

	displayName := username
	if isOP {
		displayName = username + " (OP)"
	}

	return Comment{
		Author:    models.Author{ID: username, DisplayName: displayName},
		Text:      text,
		CreatedAt: parseRelativeTime(timeStr, base),
		endLine:   end,
	}, true
}

func isCommentHeader(line string) bool {
	return strings.HasPrefix(line, "u/") && strings.Contains(strings.ToLower(line), "avatar")
}

// isVoteCount reports whether the line is a bare score immediately
// preceding a vote widget.
func isVoteCount(lines []string, i int) bool {
	line := strings.TrimSpace(lines[i])
	if !digitsRe.MatchString(line) || i+1 >= len(lines) {
		return false
	}
	next := strings.TrimSpace(lines[i+1])
	return next == "Upvote" || next == "Downvote"
}

// parseRelativeTime turns "2h ago" style strings into an RFC3339 timestamp
// relative to base. Unrecognized strings fall back to base itself.
func parseRelativeTime(timeStr string, base time.Time) string {
	ts := strings.ToLower(strings.TrimSpace(timeStr))
	for _, rt := range relTimeRes {
		m := rt.re.FindStringSubmatch(ts)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return base.Add(-time.Duration(n) * rt.unit).UTC().Format(time.RFC3339)
	}
	return base.UTC().Format(time.RFC3339)
}
