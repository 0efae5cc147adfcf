package accesslog

import (
	"net/http"
	"strconv"
	"strings"
)

// Template is the access line layout:
// vhost remoteAddress - user [time] "url" status bytes "referrer" "userAgent" millis
const Template = `%v %h - %u [%t] "%r" %s %b "%ref" "%ua" %rt`

// TimeLayout renders the request start time. The day is zero-padded.
const TimeLayout = "Mon Jan 02 15:04:05 MST 2006"

// Unavailable is written for a user, status or byte count that cannot be reported.
const Unavailable = "-"

type field int

const (
	fieldLiteral field = iota
	fieldVHost
	fieldRemoteAddr
	fieldUser
	fieldTime
	fieldURL
	fieldStatus
	fieldBytes
	fieldReferrer
	fieldUserAgent
	fieldElapsed
	numFields
)

// Longer names come first so "%ref" and "%rt" are not read as "%r".
var tokens = []struct {
	name  string
	field field
}{
	{"%ref", fieldReferrer},
	{"%rt", fieldElapsed},
	{"%ua", fieldUserAgent},
	{"%v", fieldVHost},
	{"%h", fieldRemoteAddr},
	{"%u", fieldUser},
	{"%t", fieldTime},
	{"%r", fieldURL},
	{"%s", fieldStatus},
	{"%b", fieldBytes},
}

type segment struct {
	literal string
	field   field
}

type layout []segment

var combined = compile(Template)

// compile splits a template into literal runs and token references.
// A '%' that starts no known token is kept as text.
func compile(tmpl string) layout {
	var (
		out   layout
		start int
	)
	for i := 0; i < len(tmpl); {
		if tmpl[i] != '%' {
			i++
			continue
		}
		f, n := matchToken(tmpl[i:])
		if n == 0 {
			i++
			continue
		}
		if start < i {
			out = append(out, segment{literal: tmpl[start:i]})
		}
		out = append(out, segment{field: f})
		i += n
		start = i
	}
	if start < len(tmpl) {
		out = append(out, segment{literal: tmpl[start:]})
	}
	return out
}

func matchToken(s string) (field, int) {
	for _, t := range tokens {
		if strings.HasPrefix(s, t.name) {
			return t.field, len(t.name)
		}
	}
	return fieldLiteral, 0
}

func (l layout) render(b *strings.Builder, vals *[numFields]string) {
	for _, seg := range l {
		if seg.field == fieldLiteral {
			b.WriteString(seg.literal)
			continue
		}
		b.WriteString(vals[seg.field])
	}
}

// Format builds the access line for one exchange. It returns "" when either
// snapshot is missing. Values are embedded as-is, quotes included.
func Format(req *RequestSnapshot, resp *ResponseSnapshot, cfg Config, elapsedMillis int64) string {
	if req == nil || resp == nil {
		return ""
	}

	status, bytes := statusAndBytes(resp)

	var vals [numFields]string
	vals[fieldVHost] = req.Host
	vals[fieldRemoteAddr] = req.RemoteAddr
	vals[fieldUser] = ResolveUser(req.User, req.SessionUser)
	vals[fieldTime] = req.Time.Format(TimeLayout)
	vals[fieldURL] = req.URL
	vals[fieldStatus] = status
	vals[fieldBytes] = bytes
	vals[fieldReferrer] = req.Header.Get("Referer")
	vals[fieldUserAgent] = req.Header.Get("User-Agent")
	vals[fieldElapsed] = strconv.FormatInt(elapsedMillis, 10)

	var b strings.Builder
	b.Grow(len(Template) + len(req.URL) + 128)
	combined.render(&b, &vals)

	if cfg.IncludeBody && req.Method == http.MethodPost {
		b.WriteString(` "`)
		b.WriteString(req.Body)
		b.WriteByte('"')
	}

	return strings.TrimSpace(b.String())
}

// ResolveUser prefers the authenticated user, then the session username.
func ResolveUser(user, sessionUser string) string {
	if user != "" {
		return user
	}
	if sessionUser != "" {
		return sessionUser
	}
	return Unavailable
}

// Status and size are only trusted once the request reached a handler and
// something was written; static files and early errors report neither.
func statusAndBytes(resp *ResponseSnapshot) (string, string) {
	if !resp.Dispatched || resp.Bytes <= 0 {
		return Unavailable, Unavailable
	}
	return strconv.Itoa(resp.Status), strconv.FormatInt(resp.Bytes, 10)
}
