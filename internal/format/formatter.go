package format

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "time/tzdata"

	"github.com/miradorstack/mirador-statuswatch/internal/models"
)

// TimeLayout is used for every timestamp shown on a card.
const TimeLayout = "Jan 2, 2006 3:04 PM MST"

const (
	emojiResolved   = "✅"
	emojiMonitoring = "🔧"
	emojiProgressed = "🔄"
	emojiDigest     = "🚨"
	emojiUnknown    = "⚪"
)

var impactEmoji = map[string]string{
	models.ImpactCritical: "🔴",
	models.ImpactMajor:    "🟠",
	models.ImpactMinor:    "🟡",
	models.ImpactNone:     "🔵",
}

// ImpactEmoji returns the marker used for an impact level.
func ImpactEmoji(impact string) string {
	if e, ok := impactEmoji[impact]; ok {
		return e
	}
	return emojiUnknown
}

// Options configures a Formatter.
type Options struct {
	// Timezone is an IANA zone name; empty means UTC.
	Timezone      string
	StatusPageURL string
	// DigestLines caps the incidents listed in a digest body.
	DigestLines int
	Now         func() time.Time
}

// Formatter builds notification messages. It is safe for concurrent use.
type Formatter struct {
	location      *time.Location
	statusPageURL string
	digestLines   int
	now           func() time.Time
}

// New validates opts and returns a Formatter.
func New(opts Options) (*Formatter, error) {
	loc := time.UTC
	if opts.Timezone != "" {
		l, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", opts.Timezone, err)
		}
		loc = l
	}
	if opts.DigestLines <= 0 {
		opts.DigestLines = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Formatter{
		location:      loc,
		statusPageURL: strings.TrimRight(opts.StatusPageURL, "/"),
		digestLines:   opts.DigestLines,
		now:           opts.Now,
	}, nil
}

// StatusPageFromSource derives the public page from an API URL such as
// https://status.example.com/api/v2/incidents.json.
func StatusPageFromSource(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// NewIncident announces an incident seen for the first time.
func (f *Formatter) NewIncident(inc models.Incident) Message {
	fields := []Field{
		{Label: "Impact", Value: strings.ToUpper(orUnknown(inc.Impact))},
		{Label: "Status", Value: strings.ToUpper(orUnknown(inc.Status))},
		{Label: "Started", Value: f.formatTime(inc.Started())},
	}
	if names := inc.ComponentNames(); len(names) > 0 {
		fields = append(fields, Field{Label: "Affected Components", Value: strings.Join(names, ", ")})
	}

	body := "No details available"
	if u, ok := inc.LatestUpdate(); ok && strings.TrimSpace(u.Body) != "" {
		body = u.Body
	}

	return Message{
		Kind:     KindNew,
		Title:    fmt.Sprintf("%s %s", ImpactEmoji(inc.Impact), inc.Name),
		Subtitle: "New incident",
		Fields:   fields,
		Body:     body,
		Links:    f.links(inc),
	}
}

// Resolved announces that an incident has been resolved.
func (f *Formatter) Resolved(inc models.Incident) Message {
	duration := f.Duration(inc)
	resolvedAt := f.now()
	if inc.ResolvedAt != nil {
		resolvedAt = *inc.ResolvedAt
	}

	fields := []Field{
		{Label: "Status", Value: "RESOLVED"},
		{Label: "Impact", Value: strings.ToUpper(orUnknown(inc.Impact))},
		{Label: "Duration", Value: duration},
	}
	if names := inc.ComponentNames(); len(names) > 0 {
		fields = append(fields, Field{Label: "Affected Components", Value: strings.Join(names, ", ")})
	}

	body := "This incident has been resolved."
	if u, ok := inc.UpdateWithStatus(models.StatusResolved); ok && strings.TrimSpace(u.Body) != "" {
		body = u.Body
	}

	return Message{
		Kind:     KindResolved,
		Title:    fmt.Sprintf("%s Resolved: %s", emojiResolved, inc.Name),
		Subtitle: fmt.Sprintf("Duration: %s • Resolved %s", duration, f.formatTime(resolvedAt)),
		Fields:   fields,
		Body:     body,
		Links:    f.links(inc),
	}
}

// StatusProgressed announces a move to a later lifecycle status.
func (f *Formatter) StatusProgressed(inc models.Incident, oldStatus string) Message {
	body := "Status updated"
	if u, ok := inc.LatestUpdate(); ok && strings.TrimSpace(u.Body) != "" {
		body = u.Body
	}

	return Message{
		Kind:     KindProgressed,
		Title:    fmt.Sprintf("%s %s", emojiProgressed, inc.Name),
		Subtitle: fmt.Sprintf("%s → %s", strings.ToUpper(orUnknown(oldStatus)), strings.ToUpper(orUnknown(inc.Status))),
		Fields: []Field{
			{Label: "Status", Value: strings.ToUpper(orUnknown(inc.Status))},
			{Label: "Impact", Value: strings.ToUpper(orUnknown(inc.Impact))},
		},
		Body:  body,
		Links: f.links(inc),
	}
}

// Monitoring announces that a fix is deployed and being watched.
func (f *Formatter) Monitoring(inc models.Incident) Message {
	body := "A fix has been implemented and we are monitoring the results."
	if u, ok := inc.UpdateWithStatus(models.StatusMonitoring); ok && strings.TrimSpace(u.Body) != "" {
		body = u.Body
	}

	return Message{
		Kind:     KindMonitoring,
		Title:    fmt.Sprintf("%s Fix Deployed: %s", emojiMonitoring, inc.Name),
		Subtitle: "Monitoring",
		Fields: []Field{
			{Label: "Status", Value: "MONITORING"},
			{Label: "Impact", Value: strings.ToUpper(orUnknown(inc.Impact))},
		},
		Body:  body,
		Links: f.links(inc),
	}
}

// Digest summarises several new incidents in one message.
func (f *Formatter) Digest(incidents []models.Incident) Message {
	counts := map[string]int{}
	for _, inc := range incidents {
		counts[inc.Impact]++
	}

	shown := incidents
	if len(shown) > f.digestLines {
		shown = shown[:f.digestLines]
	}
	lines := make([]string, 0, len(shown)+1)
	for _, inc := range shown {
		lines = append(lines, fmt.Sprintf("%s %s (%s)", ImpactEmoji(inc.Impact), inc.Name, orUnknown(inc.Impact)))
	}
	if rest := len(incidents) - len(shown); rest > 0 {
		lines = append(lines, fmt.Sprintf("...and %d more", rest))
	}

	var links []Link
	if f.statusPageURL != "" {
		links = []Link{{Text: "View Status Page", URL: f.statusPageURL}}
	}

	return Message{
		Kind:     KindDigest,
		Title:    fmt.Sprintf("%s %d New Incidents", emojiDigest, len(incidents)),
		Subtitle: fmt.Sprintf("As of %s", f.formatTime(f.now())),
		Fields: []Field{
			{Label: "Critical", Value: fmt.Sprint(counts[models.ImpactCritical])},
			{Label: "Major", Value: fmt.Sprint(counts[models.ImpactMajor])},
			{Label: "Minor", Value: fmt.Sprint(counts[models.ImpactMinor])},
		},
		Body:  strings.Join(lines, "\n"),
		Links: links,
	}
}

// Duration renders how long inc has lasted: until resolution if resolved,
// otherwise until now.
func (f *Formatter) Duration(inc models.Incident) string {
	end := f.now()
	if inc.ResolvedAt != nil {
		end = *inc.ResolvedAt
	}
	return FormatDuration(end.Sub(inc.Started()))
}

// FormatDuration renders d as "{H}h {M}m", or "{M}m" under an hour.
// Partial minutes are truncated.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalMinutes := d.Milliseconds() / (60 * 1000)
	hours := totalMinutes / 60
	minutes := totalMinutes % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func (f *Formatter) formatTime(t time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}
	return t.In(f.location).Format(TimeLayout)
}

func (f *Formatter) links(inc models.Incident) []Link {
	detail := inc.Shortlink
	if detail == "" && f.statusPageURL != "" {
		detail = f.statusPageURL + "/incidents/" + url.PathEscape(inc.ID)
	}
	var links []Link
	if detail != "" {
		links = append(links, Link{Text: "View Incident", URL: detail})
	}
	if f.statusPageURL != "" {
		links = append(links, Link{Text: "Status Page", URL: f.statusPageURL})
	}
	return links
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}
