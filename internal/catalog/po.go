package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chai2010/gettext-go/po"
)

const fuzzyFlag = "fuzzy"

// revisionDateLayout is the gettext PO-Revision-Date format
const revisionDateLayout = "2006-01-02 15:04-0700"

// wrapWidth is the column msgmerge wraps quoted strings at
const wrapWidth = 79

// template placeholders that never overwrite real metadata on merge
var headerPlaceholders = map[string]bool{
	"PACKAGE VERSION":           true,
	"YEAR-MO-DA HO:MI+ZONE":     true,
	"FULL NAME <EMAIL@ADDRESS>": true,
	"LANGUAGE <LL@li.org>":      true,
}

// headerOrder is the field order xgettext and msgmerge write. Fields added by
// Update are inserted at their position in this list.
var headerOrder = []string{
	"Project-Id-Version",
	"Report-Msgid-Bugs-To",
	"POT-Creation-Date",
	"PO-Revision-Date",
	"Last-Translator",
	"Language-Team",
	"Language",
	"MIME-Version",
	"Content-Type",
	"Content-Transfer-Encoding",
	"Plural-Forms",
	"X-Generator",
}

type poStore struct {
	path    string
	header  *poHeader
	units   []*poUnit
	blocks  []poBlock
	trailer string
}

// poBlock is one blank-line separated chunk of the file. Blocks that are
// neither the header nor a message (obsolete #~ entries, stray comments) are
// written back verbatim.
type poBlock struct {
	lead   string
	raw    string
	header bool
	unit   *poUnit
}

func parsePO(name string, data []byte) (*poStore, error) {
	s := &poStore{path: name, header: &poHeader{}}

	chunks, trailer := splitBlocks(string(data))
	s.trailer = trailer
	for _, c := range chunks {
		body, tail := splitTrailingComments(c.text)
		switch {
		case body == "":
			s.blocks = append(s.blocks, poBlock{lead: c.lead, raw: c.text})
			continue
		case isHeaderBlock(body) && s.header.raw == "" && len(s.units) == 0:
			s.header = parseHeader(body)
			s.blocks = append(s.blocks, poBlock{lead: c.lead, raw: body, header: true})
		default:
			msg, err := parseMessage(body)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", name, err)
			}
			u := &poUnit{msg: msg, raw: body}
			s.units = append(s.units, u)
			s.blocks = append(s.blocks, poBlock{lead: c.lead, raw: body, unit: u})
		}
		if tail != "" {
			s.blocks = append(s.blocks, poBlock{raw: tail})
		}
	}
	return s, nil
}

type chunk struct {
	lead string
	text string
}

// splitBlocks cuts data at blank lines. Each chunk keeps the blank lines
// preceding it; blank lines after the last chunk are returned as trailer.
func splitBlocks(data string) ([]chunk, string) {
	var (
		chunks     []chunk
		lead, text strings.Builder
	)
	flush := func() {
		if text.Len() == 0 {
			return
		}
		chunks = append(chunks, chunk{lead: lead.String(), text: text.String()})
		lead.Reset()
		text.Reset()
	}
	for _, line := range strings.SplitAfter(data, "\n") {
		if line == "" {
			continue
		}
		if strings.TrimSpace(line) == "" {
			flush()
			lead.WriteString(line)
			continue
		}
		text.WriteString(line)
	}
	flush()
	return chunks, lead.String()
}

// splitTrailingComments separates comment lines following the message of a
// chunk, as left behind by obsolete entries written without a separating
// blank line. body is empty for chunks without a message.
func splitTrailingComments(text string) (body, tail string) {
	lines := strings.SplitAfter(text, "\n")
	seenKeyword := false
	offset := 0
	for _, line := range lines {
		isComment := strings.HasPrefix(line, "#")
		if !isComment && line != "" {
			seenKeyword = true
		}
		if isComment && seenKeyword {
			return text[:offset], text[offset:]
		}
		offset += len(line)
	}
	if !seenKeyword {
		return "", text
	}
	return text, ""
}

// isHeaderBlock reports whether the first keyword of text is an empty msgid
// without continuation lines
func isHeaderBlock(text string) bool {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line != `msgid ""` {
			return false
		}
		return i+1 >= len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[i+1]), `"`)
	}
	return false
}

func parseMessage(text string) (po.Message, error) {
	f, err := po.Load([]byte(text))
	if err != nil {
		return po.Message{}, err
	}
	for _, msg := range f.Messages {
		if msg.MsgId != "" || msg.MsgContext != "" {
			return msg, nil
		}
	}
	return po.Message{}, fmt.Errorf("no message in block starting %q", firstLine(text))
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return line
}

func (s *poStore) Units() []Unit {
	units := make([]Unit, 0, len(s.units)+1)
	units = append(units, headerUnit{header: s.header})
	for _, u := range s.units {
		units = append(units, u)
	}
	return units
}

func (s *poStore) FindByID(id string) (Unit, error) {
	for _, u := range s.units {
		if u.ID() == id {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: id %q", ErrUnitNotFound, id)
}

func (s *poStore) FindBySource(source string) (Unit, error) {
	singular := SplitPlural(source)[0]
	for _, u := range s.units {
		if u.msg.MsgId == singular {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: source %q", ErrUnitNotFound, singular)
}

func (s *poStore) FindBySourceContext(source, context string) (Unit, error) {
	singular := SplitPlural(source)[0]
	for _, u := range s.units {
		if u.msg.MsgId == singular && u.msg.MsgContext == context {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: source %q context %q", ErrUnitNotFound, singular, context)
}

func (s *poStore) Features() Feature {
	return FeatureHeader | FeatureFuzzy | FeatureContext
}

func (s *poStore) Header() Header {
	return s.header
}

func (s *poStore) Path() string {
	return s.path
}

func (s *poStore) Save() error {
	data, err := s.Bytes()
	if err != nil {
		return err
	}
	return writeFile(s.path, data)
}

// Bytes serializes the catalog. Blocks that were not changed are written
// exactly as they were read.
func (s *poStore) Bytes() ([]byte, error) {
	var b strings.Builder
	if s.header.raw == "" && s.header.dirty {
		b.WriteString(s.header.render())
		if len(s.blocks) > 0 {
			b.WriteString("\n")
		}
	}
	for _, block := range s.blocks {
		b.WriteString(block.lead)
		switch {
		case block.header && s.header.dirty:
			b.WriteString(s.header.render())
		case block.unit != nil && block.unit.dirty:
			b.WriteString(block.unit.render())
		default:
			b.WriteString(block.raw)
		}
	}
	b.WriteString(s.trailer)
	return []byte(b.String()), nil
}

type poUnit struct {
	msg po.Message
	raw string
	// dirty marks units whose msgstr or flags changed since parsing
	dirty bool
	// dropPrevious removes #| lines once the unit is no longer fuzzy
	dropPrevious bool
}

func (u *poUnit) ID() string {
	if u.msg.MsgContext != "" {
		return u.msg.MsgContext + "\x04" + u.msg.MsgId
	}
	return u.msg.MsgId
}

func (u *poUnit) Source() string {
	if u.IsPlural() {
		return JoinPlural([]string{u.msg.MsgId, u.msg.MsgIdPlural})
	}
	return u.msg.MsgId
}

func (u *poUnit) Target() string {
	if u.IsPlural() {
		return JoinPlural(u.msg.MsgStrPlural)
	}
	return u.msg.MsgStr
}

func (u *poUnit) Context() string {
	return u.msg.MsgContext
}

func (u *poUnit) Notes() string {
	var notes []string
	for _, c := range []string{u.msg.ExtractedComment, u.msg.TranslatorComment} {
		if c = strings.TrimSpace(c); c != "" {
			notes = append(notes, c)
		}
	}
	return strings.Join(notes, "\n")
}

func (u *poUnit) Locations() string {
	return strings.Join(references(u.msg.Comment), ", ")
}

func (u *poUnit) Flags() string {
	return strings.Join(cleanFlags(u.msg.Flags), ", ")
}

func (u *poUnit) IsFuzzy() bool {
	for _, f := range cleanFlags(u.msg.Flags) {
		if f == fuzzyFlag {
			return true
		}
	}
	return false
}

func (u *poUnit) MarkFuzzy(fuzzy bool) {
	if u.IsFuzzy() == fuzzy {
		return
	}
	flags := cleanFlags(u.msg.Flags)
	kept := flags[:0]
	for _, f := range flags {
		if f != fuzzyFlag {
			kept = append(kept, f)
		}
	}
	if fuzzy {
		kept = append([]string{fuzzyFlag}, kept...)
	}
	u.msg.Flags = kept
	u.dropPrevious = !fuzzy
	u.dirty = true
}

func (u *poUnit) IsTranslated() bool {
	if u.IsFuzzy() {
		return false
	}
	return SplitPlural(u.Target())[0] != ""
}

func (u *poUnit) IsTranslatable() bool {
	return true
}

func (u *poUnit) IsHeader() bool {
	return false
}

func (u *poUnit) IsPlural() bool {
	return u.msg.MsgIdPlural != ""
}

func (u *poUnit) SetTarget(target string) {
	if u.Target() == target {
		return
	}
	if u.IsPlural() {
		u.msg.MsgStrPlural = SplitPlural(target)
		u.msg.MsgStr = ""
	} else {
		u.msg.MsgStr = target
	}
	u.dirty = true
}

func (u *poUnit) Merge(other Unit, overwrite bool) {
	mergeUnit(u, other, overwrite)
}

// render rewrites the flags line and the msgstr lines of the unit and keeps
// every other line of the original block
func (u *poUnit) render() string {
	var b strings.Builder
	lines := strings.SplitAfter(u.raw, "\n")

	flagsWritten := false
	writeFlags := func() {
		if flagsWritten {
			return
		}
		flagsWritten = true
		if flags := cleanFlags(u.msg.Flags); len(flags) > 0 {
			b.WriteString("#, " + strings.Join(flags, ", ") + "\n")
		}
	}

	i := 0
	for ; i < len(lines) && strings.HasPrefix(lines[i], "#"); i++ {
		switch line := lines[i]; {
		case strings.HasPrefix(line, "#,"):
			writeFlags()
		case strings.HasPrefix(line, "#|"):
			writeFlags()
			if !u.dropPrevious {
				b.WriteString(line)
			}
		default:
			b.WriteString(line)
		}
	}
	writeFlags()

	for ; i < len(lines) && !strings.HasPrefix(lines[i], "msgstr"); i++ {
		b.WriteString(lines[i])
	}

	if !u.IsPlural() {
		writeWrapped(&b, "msgstr", u.msg.MsgStr)
		return b.String()
	}
	forms := u.msg.MsgStrPlural
	if len(forms) == 0 {
		forms = []string{""}
	}
	for n, form := range forms {
		writeWrapped(&b, "msgstr["+strconv.Itoa(n)+"]", form)
	}
	return b.String()
}

type headerField struct {
	key   string
	value string
	// bare lines carry no "key: value" structure and are kept as written
	bare bool
}

// poHeader is the msgid "" entry with its fields in file order
type poHeader struct {
	raw      string
	comments []string
	fields   []headerField
	dirty    bool
}

// headerUnit exposes the header as the first, never translatable, unit of
// the store
type headerUnit struct {
	header *poHeader
}

func (u headerUnit) ID() string { return "" }
func (u headerUnit) Source() string { return "" }
func (u headerUnit) Target() string { return u.header.msgstr() }
func (u headerUnit) Context() string { return "" }
func (u headerUnit) Notes() string { return u.header.notes() }
func (u headerUnit) Locations() string { return "" }
func (u headerUnit) Flags() string { return u.header.flags() }
func (u headerUnit) IsFuzzy() bool { return false }
func (u headerUnit) MarkFuzzy(bool) {}
func (u headerUnit) IsTranslated() bool { return false }
func (u headerUnit) IsTranslatable() bool { return false }
func (u headerUnit) IsHeader() bool { return true }
func (u headerUnit) IsPlural() bool { return false }
func (u headerUnit) SetTarget(string) {}
func (u headerUnit) Merge(Unit, bool) {}

func parseHeader(text string) *poHeader {
	h := &poHeader{raw: text}
	var value strings.Builder
	inMsgstr := false
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			h.comments = append(h.comments, strings.TrimRight(line, "\r"))
			inMsgstr = false
		case strings.HasPrefix(trimmed, "msgstr"):
			inMsgstr = true
			value.WriteString(unquote(strings.TrimSpace(strings.TrimPrefix(trimmed, "msgstr"))))
		case inMsgstr && strings.HasPrefix(trimmed, `"`):
			value.WriteString(unquote(trimmed))
		default:
			inMsgstr = false
		}
	}

	for _, line := range strings.Split(value.String(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			h.fields = append(h.fields, headerField{key: line, bare: true})
			continue
		}
		h.fields = append(h.fields, headerField{key: strings.TrimSpace(key), value: strings.TrimSpace(val)})
	}
	return h
}

func (h *poHeader) Field(name string) string {
	for _, f := range h.fields {
		if !f.bare && f.key == name {
			return f.value
		}
	}
	return ""
}

// set replaces the value of key, inserting missing fields in headerOrder
func (h *poHeader) set(key, value string) {
	for i, f := range h.fields {
		if !f.bare && f.key == key {
			if f.value != value {
				h.fields[i].value = value
				h.dirty = true
			}
			return
		}
	}

	rank := orderOf(key)
	pos := len(h.fields)
	for i, f := range h.fields {
		if !f.bare && orderOf(f.key) > rank {
			pos = i
			break
		}
	}
	h.fields = append(h.fields, headerField{})
	copy(h.fields[pos+1:], h.fields[pos:])
	h.fields[pos] = headerField{key: key, value: value}
	h.dirty = true
}

func orderOf(key string) int {
	for i, k := range headerOrder {
		if k == key {
			return i
		}
	}
	return len(headerOrder)
}

func (h *poHeader) Update(update HeaderUpdate) {
	if update.LastTranslator != "" {
		h.set("Last-Translator", update.LastTranslator)
	}
	if !update.RevisionDate.IsZero() {
		h.set("PO-Revision-Date", update.RevisionDate.Format(revisionDateLayout))
	}
	if update.PluralForms != "" {
		h.set("Plural-Forms", update.PluralForms)
	}
	if update.Language != "" {
		h.set("Language", update.Language)
	}
	if update.Generator != "" {
		h.set("X-Generator", update.Generator)
	}
	defaults := []headerField{
		{key: "MIME-Version", value: "1.0"},
		{key: "Content-Type", value: "text/plain; charset=UTF-8"},
		{key: "Content-Transfer-Encoding", value: "8bit"},
	}
	for _, d := range defaults {
		if h.Field(d.key) == "" {
			h.set(d.key, d.value)
		}
	}
}

func (h *poHeader) Merge(other Store) {
	o, ok := other.(*poStore)
	if !ok {
		return
	}
	for _, key := range []string{"Project-Id-Version", "PO-Revision-Date", "Last-Translator", "Language-Team", "Plural-Forms"} {
		if v := o.header.Field(key); v != "" && !headerPlaceholders[v] {
			h.set(key, v)
		}
	}
}

func (h *poHeader) msgstr() string {
	var b strings.Builder
	for _, f := range h.fields {
		b.WriteString(f.line())
	}
	return b.String()
}

func (f headerField) line() string {
	if f.bare {
		return f.key + "\n"
	}
	return f.key + ": " + f.value + "\n"
}

func (h *poHeader) notes() string {
	var notes []string
	for _, c := range h.comments {
		if strings.HasPrefix(c, "# ") || c == "#" {
			notes = append(notes, strings.TrimPrefix(strings.TrimPrefix(c, "#"), " "))
		}
	}
	return strings.TrimSpace(strings.Join(notes, "\n"))
}

func (h *poHeader) flags() string {
	var flags []string
	for _, c := range h.comments {
		if rest, ok := strings.CutPrefix(c, "#,"); ok {
			flags = append(flags, cleanFlags(strings.Split(rest, ","))...)
		}
	}
	return strings.Join(flags, ", ")
}

// render writes the header the way msgmerge does: comments, an empty msgid
// and one quoted line per field
func (h *poHeader) render() string {
	var b strings.Builder
	for _, c := range h.comments {
		b.WriteString(c + "\n")
	}
	b.WriteString("msgid \"\"\nmsgstr \"\"\n")
	for _, f := range h.fields {
		for _, part := range wrapSegment(escape(f.line())) {
			b.WriteString(`"` + part + "\"\n")
		}
	}
	return b.String()
}

// writeWrapped writes a keyword with its quoted value. Values that do not fit
// on the keyword line or contain inner newlines start with an empty string
// followed by one line per segment, wrapped after spaces.
func writeWrapped(b *strings.Builder, keyword, value string) {
	segments := strings.SplitAfter(value, "\n")
	if segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}
	if len(segments) <= 1 {
		line := keyword + ` "` + escape(value) + `"`
		if utf8.RuneCountInString(line) <= wrapWidth {
			b.WriteString(line + "\n")
			return
		}
	}
	b.WriteString(keyword + " \"\"\n")
	for _, seg := range segments {
		for _, part := range wrapSegment(escape(seg)) {
			b.WriteString(`"` + part + "\"\n")
		}
	}
}

// wrapSegment splits an escaped string after spaces so that each part fits
// in wrapWidth columns once quoted. Words longer than a line stay whole.
func wrapSegment(s string) []string {
	limit := wrapWidth - 2
	var parts []string
	for utf8.RuneCountInString(s) > limit {
		cut, count := -1, 0
		for i, r := range s {
			count++
			if count > limit {
				break
			}
			if r == ' ' {
				cut = i + 1
			}
		}
		if cut <= 0 {
			next := strings.IndexByte(s, ' ')
			if next < 0 {
				break
			}
			cut = next + 1
		}
		if cut >= len(s) {
			break
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	return append(parts, s)
}

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\t", `\t`,
	"\r", `\r`,
)

func escape(s string) string {
	return escaper.Replace(s)
}

// unquote decodes one quoted PO string. Unknown escapes keep the escaped
// character.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return ""
	}
	s = s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func references(c po.Comment) []string {
	refs := make([]string, 0, len(c.ReferenceFile))
	for i, file := range c.ReferenceFile {
		if i < len(c.ReferenceLine) && c.ReferenceLine[i] > 0 {
			refs = append(refs, file+":"+strconv.Itoa(c.ReferenceLine[i]))
			continue
		}
		refs = append(refs, file)
	}
	return refs
}

func cleanFlags(flags []string) []string {
	result := make([]string, 0, len(flags))
	for _, f := range flags {
		if f = strings.TrimSpace(f); f != "" {
			result = append(result, f)
		}
	}
	return result
}
