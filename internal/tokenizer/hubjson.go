package tokenizer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/unicode/norm"
)

// Byte-level BPE pre-tokenization pattern used when ByteLevel has use_regex.
const byteLevelPattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

const whitespacePattern = `\w+|[^\w\s]+`

type rawTokenizer struct {
	AddedTokens   []rawAddedToken `json:"added_tokens"`
	Normalizer    json.RawMessage `json:"normalizer"`
	PreTokenizer  json.RawMessage `json:"pre_tokenizer"`
	Model         rawModel        `json:"model"`
	PostProcessor json.RawMessage `json:"post_processor"`
}

type rawAddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
}

type rawModel struct {
	Type                    string            `json:"type"`
	Vocab                   map[string]int    `json:"vocab"`
	Merges                  []json.RawMessage `json:"merges"`
	UnkToken                *string           `json:"unk_token"`
	ByteFallback            bool              `json:"byte_fallback"`
	IgnoreMerges            bool              `json:"ignore_merges"`
	ContinuingSubwordPrefix *string           `json:"continuing_subword_prefix"`
	EndOfWordSuffix         *string           `json:"end_of_word_suffix"`
}

type rawPattern struct {
	Regex  *string `json:"Regex"`
	String *string `json:"String"`
}

type rawComponent struct {
	Type string `json:"type"`

	Normalizers   []json.RawMessage `json:"normalizers"`
	Pretokenizers []json.RawMessage `json:"pretokenizers"`
	Processors    []json.RawMessage `json:"processors"`

	Pattern  *rawPattern `json:"pattern"`
	Content  string      `json:"content"`
	Behavior string      `json:"behavior"`
	Invert   bool        `json:"invert"`

	AddPrefixSpace *bool `json:"add_prefix_space"`
	UseRegex       *bool `json:"use_regex"`

	Replacement   string `json:"replacement"`
	PrependScheme string `json:"prepend_scheme"`
	Split         *bool  `json:"split"`

	Prepend    string `json:"prepend"`
	StripLeft  bool   `json:"strip_left"`
	StripRight bool   `json:"strip_right"`

	Single        []rawTemplatePiece         `json:"single"`
	SpecialTokens map[string]rawSpecialToken `json:"special_tokens"`
	Cls           []any                      `json:"cls"`
	Sep           []any                      `json:"sep"`
}

type rawTemplatePiece struct {
	SpecialToken *struct {
		ID string `json:"id"`
	} `json:"SpecialToken"`
	Sequence *struct {
		ID string `json:"id"`
	} `json:"Sequence"`
}

type rawSpecialToken struct {
	IDs []int `json:"ids"`
}

type normalizeFunc func(string) (string, error)

type pretokenizeFunc func(pieces []string, first bool) ([]string, error)

type postProcessFunc func(ids []int) []int

// jsonTokenizer runs a serialized BPE tokenizer: added tokens are split
// out first, the rest is normalized, pre-tokenized and merged, and the
// post-processor adds special tokens.
type jsonTokenizer struct {
	added       []rawAddedToken
	normalize   normalizeFunc
	pretok      []pretokenizeFunc
	model       *bpeModel
	postProcess postProcessFunc
}

func loadTokenizerFile(path string) (encodeFunc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tk, err := parseTokenizerJSON(data)
	if err != nil {
		return nil, err
	}
	return tk.Encode, nil
}

func parseTokenizerJSON(data []byte) (*jsonTokenizer, error) {
	var raw rawTokenizer
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode tokenizer definition: %w", err)
	}

	model, err := newBPEModel(raw.Model)
	if err != nil {
		return nil, err
	}
	normalize, err := buildNormalizer(raw.Normalizer)
	if err != nil {
		return nil, err
	}
	pretok, err := buildPreTokenizer(raw.PreTokenizer)
	if err != nil {
		return nil, err
	}
	post, err := buildPostProcessor(raw.PostProcessor)
	if err != nil {
		return nil, err
	}

	added := make([]rawAddedToken, 0, len(raw.AddedTokens))
	for _, t := range raw.AddedTokens {
		if t.Content != "" {
			added = append(added, t)
		}
	}
	sort.SliceStable(added, func(i, j int) bool {
		return len(added[i].Content) > len(added[j].Content)
	})

	return &jsonTokenizer{
		added:       added,
		normalize:   normalize,
		pretok:      pretok,
		model:       model,
		postProcess: post,
	}, nil
}

// Encode always applies the post-processor, so empty text still yields
// any template special tokens (e.g. BOS).
func (t *jsonTokenizer) Encode(text string) ([]int, error) {
	var ids []int
	for i, seg := range t.splitAdded(text) {
		if seg.added {
			ids = append(ids, seg.id)
			continue
		}
		normalized, err := t.normalize(seg.text)
		if err != nil {
			return nil, err
		}
		if normalized == "" {
			continue
		}
		pieces := []string{normalized}
		for _, pre := range t.pretok {
			if pieces, err = pre(pieces, i == 0); err != nil {
				return nil, err
			}
		}
		for _, piece := range pieces {
			if piece != "" {
				ids = append(ids, t.model.encodeWord(piece)...)
			}
		}
	}
	return t.postProcess(ids), nil
}

type segment struct {
	text  string
	id    int
	added bool
}

func (t *jsonTokenizer) splitAdded(text string) []segment {
	var out []segment
	for text != "" {
		at, match := -1, -1
		for i, tok := range t.added {
			if idx := strings.Index(text, tok.Content); idx >= 0 && (at < 0 || idx < at) {
				at, match = idx, i
			}
		}
		if at < 0 {
			out = append(out, segment{text: text})
			break
		}
		if at > 0 {
			out = append(out, segment{text: text[:at]})
		}
		tok := t.added[match]
		out = append(out, segment{id: tok.ID, added: true})
		text = text[at+len(tok.Content):]
	}
	return out
}

func decodeComponent(data json.RawMessage) (*rawComponent, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var c rawComponent
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func compilePattern(p *rawPattern) (*regexp2.Regexp, error) {
	switch {
	case p == nil:
		return nil, fmt.Errorf("missing pattern")
	case p.Regex != nil:
		return regexp2.Compile(*p.Regex, regexp2.None)
	case p.String != nil:
		return regexp2.Compile(regexp2.Escape(*p.String), regexp2.None)
	default:
		return nil, fmt.Errorf("empty pattern")
	}
}

func buildNormalizer(data json.RawMessage) (normalizeFunc, error) {
	c, err := decodeComponent(data)
	if err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}
	if c == nil {
		return func(s string) (string, error) { return s, nil }, nil
	}

	switch c.Type {
	case "NFC":
		return func(s string) (string, error) { return norm.NFC.String(s), nil }, nil
	case "NFD":
		return func(s string) (string, error) { return norm.NFD.String(s), nil }, nil
	case "NFKC":
		return func(s string) (string, error) { return norm.NFKC.String(s), nil }, nil
	case "NFKD":
		return func(s string) (string, error) { return norm.NFKD.String(s), nil }, nil
	case "Lowercase":
		return func(s string) (string, error) { return strings.ToLower(s), nil }, nil
	case "Strip":
		left, right := c.StripLeft, c.StripRight
		return func(s string) (string, error) {
			if left {
				s = strings.TrimLeft(s, " \t\n\r\v\f")
			}
			if right {
				s = strings.TrimRight(s, " \t\n\r\v\f")
			}
			return s, nil
		}, nil
	case "Prepend":
		prefix := c.Prepend
		return func(s string) (string, error) {
			if s == "" {
				return s, nil
			}
			return prefix + s, nil
		}, nil
	case "Replace":
		re, err := compilePattern(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("normalizer Replace: %w", err)
		}
		content := c.Content
		return func(s string) (string, error) {
			return re.Replace(s, content, -1, -1)
		}, nil
	case "Sequence":
		steps := make([]normalizeFunc, 0, len(c.Normalizers))
		for _, sub := range c.Normalizers {
			step, err := buildNormalizer(sub)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
		}
		return func(s string) (string, error) {
			var err error
			for _, step := range steps {
				if s, err = step(s); err != nil {
					return "", err
				}
			}
			return s, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported normalizer %q", c.Type)
	}
}

func buildPreTokenizer(data json.RawMessage) ([]pretokenizeFunc, error) {
	c, err := decodeComponent(data)
	if err != nil {
		return nil, fmt.Errorf("pre_tokenizer: %w", err)
	}
	if c == nil {
		return nil, nil
	}

	switch c.Type {
	case "Sequence":
		var steps []pretokenizeFunc
		for _, sub := range c.Pretokenizers {
			step, err := buildPreTokenizer(sub)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step...)
		}
		return steps, nil
	case "Split":
		if c.Invert {
			return nil, fmt.Errorf("unsupported pre_tokenizer Split with invert")
		}
		re, err := compilePattern(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pre_tokenizer Split: %w", err)
		}
		return []pretokenizeFunc{splitPretokenizer(re, c.Behavior)}, nil
	case "ByteLevel":
		addPrefix := c.AddPrefixSpace != nil && *c.AddPrefixSpace
		useRegex := c.UseRegex == nil || *c.UseRegex
		var re *regexp2.Regexp
		if useRegex {
			re = regexp2.MustCompile(byteLevelPattern, regexp2.None)
		}
		return []pretokenizeFunc{byteLevelPretokenizer(addPrefix, re)}, nil
	case "Metaspace":
		return []pretokenizeFunc{metaspacePretokenizer(c)}, nil
	case "Whitespace":
		re := regexp2.MustCompile(whitespacePattern, regexp2.None)
		return []pretokenizeFunc{splitPretokenizer(re, "Isolated"), dropWhitespace}, nil
	case "WhitespaceSplit":
		return []pretokenizeFunc{dropWhitespace}, nil
	default:
		return nil, fmt.Errorf("unsupported pre_tokenizer %q", c.Type)
	}
}

func dropWhitespace(pieces []string, _ bool) ([]string, error) {
	var out []string
	for _, p := range pieces {
		out = append(out, strings.Fields(p)...)
	}
	return out, nil
}

type span struct {
	text  string
	match bool
}

func matchSpans(re *regexp2.Regexp, s string) ([]span, error) {
	runes := []rune(s)
	var spans []span
	prev := 0
	m, err := re.FindRunesMatch(runes)
	for ; err == nil && m != nil; m, err = re.FindNextMatch(m) {
		if m.Length == 0 {
			continue
		}
		if m.Index > prev {
			spans = append(spans, span{text: string(runes[prev:m.Index])})
		}
		spans = append(spans, span{text: string(runes[m.Index : m.Index+m.Length]), match: true})
		prev = m.Index + m.Length
	}
	if err != nil {
		return nil, err
	}
	if prev < len(runes) {
		spans = append(spans, span{text: string(runes[prev:])})
	}
	return spans, nil
}

func splitPretokenizer(re *regexp2.Regexp, behavior string) pretokenizeFunc {
	return func(pieces []string, _ bool) ([]string, error) {
		var out []string
		for _, piece := range pieces {
			spans, err := matchSpans(re, piece)
			if err != nil {
				return nil, err
			}
			out = append(out, applyBehavior(spans, behavior)...)
		}
		return out, nil
	}
}

func applyBehavior(spans []span, behavior string) []string {
	var out []string
	switch behavior {
	case "Removed":
		for _, s := range spans {
			if !s.match {
				out = append(out, s.text)
			}
		}
	case "MergedWithPrevious":
		for _, s := range spans {
			if s.match && len(out) > 0 {
				out[len(out)-1] += s.text
				continue
			}
			out = append(out, s.text)
		}
	case "MergedWithNext":
		pending := ""
		for _, s := range spans {
			if s.match {
				pending += s.text
				continue
			}
			out = append(out, pending+s.text)
			pending = ""
		}
		if pending != "" {
			out = append(out, pending)
		}
	case "Contiguous":
		lastMatch := false
		for _, s := range spans {
			if s.match && lastMatch && len(out) > 0 {
				out[len(out)-1] += s.text
				continue
			}
			out = append(out, s.text)
			lastMatch = s.match
		}
	default:
		for _, s := range spans {
			out = append(out, s.text)
		}
	}
	return out
}

var byteEncoder = bytesToUnicode()

// bytesToUnicode maps every byte to a printable rune, keeping printable
// latin-1 bytes as themselves.
func bytesToUnicode() [256]rune {
	var table [256]rune
	n := 0
	for b := 0; b < 256; b++ {
		if (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF) {
			table[b] = rune(b)
			continue
		}
		table[b] = rune(256 + n)
		n++
	}
	return table
}

func byteLevelPretokenizer(addPrefixSpace bool, re *regexp2.Regexp) pretokenizeFunc {
	return func(pieces []string, _ bool) ([]string, error) {
		var out []string
		for _, piece := range pieces {
			if addPrefixSpace && !strings.HasPrefix(piece, " ") {
				piece = " " + piece
			}
			parts := []string{piece}
			if re != nil {
				spans, err := matchSpans(re, piece)
				if err != nil {
					return nil, err
				}
				parts = applyBehavior(spans, "Isolated")
			}
			for _, part := range parts {
				var b strings.Builder
				for i := 0; i < len(part); i++ {
					b.WriteRune(byteEncoder[part[i]])
				}
				out = append(out, b.String())
			}
		}
		return out, nil
	}
}

func metaspacePretokenizer(c *rawComponent) pretokenizeFunc {
	replacement := c.Replacement
	if replacement == "" {
		replacement = "▁"
	}
	scheme := c.PrependScheme
	if scheme == "" {
		scheme = "always"
		if c.AddPrefixSpace != nil && !*c.AddPrefixSpace {
			scheme = "never"
		}
	}
	split := c.Split == nil || *c.Split

	return func(pieces []string, first bool) ([]string, error) {
		var out []string
		for i, piece := range pieces {
			s := strings.ReplaceAll(piece, " ", replacement)
			prepend := scheme == "always" || (scheme == "first" && first && i == 0)
			if prepend && !strings.HasPrefix(s, replacement) {
				s = replacement + s
			}
			if !split {
				out = append(out, s)
				continue
			}
			// Each replacement rune starts a new piece.
			parts := strings.Split(s, replacement)
			if parts[0] != "" {
				out = append(out, parts[0])
			}
			for _, part := range parts[1:] {
				out = append(out, replacement+part)
			}
		}
		return out, nil
	}
}

func buildPostProcessor(data json.RawMessage) (postProcessFunc, error) {
	identity := func(ids []int) []int { return ids }
	c, err := decodeComponent(data)
	if err != nil {
		return nil, fmt.Errorf("post_processor: %w", err)
	}
	if c == nil {
		return identity, nil
	}

	switch c.Type {
	case "ByteLevel":
		return identity, nil
	case "TemplateProcessing":
		var prefix, suffix []int
		seen := false
		for _, piece := range c.Single {
			switch {
			case piece.Sequence != nil:
				seen = true
			case piece.SpecialToken != nil:
				special, ok := c.SpecialTokens[piece.SpecialToken.ID]
				if !ok {
					return nil, fmt.Errorf("post_processor: unknown special token %q", piece.SpecialToken.ID)
				}
				if seen {
					suffix = append(suffix, special.IDs...)
				} else {
					prefix = append(prefix, special.IDs...)
				}
			}
		}
		return wrapIDs(prefix, suffix), nil
	case "BertProcessing", "RobertaProcessing":
		cls, err := specialPairID(c.Cls)
		if err != nil {
			return nil, fmt.Errorf("post_processor cls: %w", err)
		}
		sep, err := specialPairID(c.Sep)
		if err != nil {
			return nil, fmt.Errorf("post_processor sep: %w", err)
		}
		return wrapIDs([]int{cls}, []int{sep}), nil
	case "Sequence":
		steps := make([]postProcessFunc, 0, len(c.Processors))
		for _, sub := range c.Processors {
			step, err := buildPostProcessor(sub)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
		}
		return func(ids []int) []int {
			for _, step := range steps {
				ids = step(ids)
			}
			return ids
		}, nil
	default:
		return nil, fmt.Errorf("unsupported post_processor %q", c.Type)
	}
}

func wrapIDs(prefix, suffix []int) postProcessFunc {
	return func(ids []int) []int {
		out := make([]int, 0, len(prefix)+len(ids)+len(suffix))
		out = append(out, prefix...)
		out = append(out, ids...)
		return append(out, suffix...)
	}
}

// specialPairID reads the id from a ["[CLS]", 101] pair.
func specialPairID(pair []any) (int, error) {
	if len(pair) != 2 {
		return 0, fmt.Errorf("expected [token, id], got %v", pair)
	}
	id, ok := pair[1].(float64)
	if !ok {
		return 0, fmt.Errorf("expected numeric id, got %v", pair[1])
	}
	return int(id), nil
}

type mergePair struct {
	left, right string
}

type bpeModel struct {
	vocab        map[string]int
	ranks        map[mergePair]int
	merged       map[mergePair]string
	unkID        int
	hasUnk       bool
	byteFallback bool
	ignoreMerges bool
	prefix       string
	suffix       string
	cache        map[string][]int
}

func newBPEModel(raw rawModel) (*bpeModel, error) {
	if raw.Type != "" && raw.Type != "BPE" {
		return nil, fmt.Errorf("unsupported model %q", raw.Type)
	}
	if len(raw.Vocab) == 0 {
		return nil, fmt.Errorf("model has no vocab")
	}

	m := &bpeModel{
		vocab:        raw.Vocab,
		ranks:        make(map[mergePair]int, len(raw.Merges)),
		merged:       make(map[mergePair]string, len(raw.Merges)),
		byteFallback: raw.ByteFallback,
		ignoreMerges: raw.IgnoreMerges,
		cache:        map[string][]int{},
	}
	if raw.ContinuingSubwordPrefix != nil {
		m.prefix = *raw.ContinuingSubwordPrefix
	}
	if raw.EndOfWordSuffix != nil {
		m.suffix = *raw.EndOfWordSuffix
	}
	if raw.UnkToken != nil {
		m.unkID, m.hasUnk = raw.Vocab[*raw.UnkToken]
	}

	for rank, entry := range raw.Merges {
		pair, err := decodeMerge(entry)
		if err != nil {
			return nil, fmt.Errorf("merge %d: %w", rank, err)
		}
		if _, dup := m.ranks[pair]; dup {
			continue
		}
		m.ranks[pair] = rank
		m.merged[pair] = pair.left + strings.TrimPrefix(pair.right, m.prefix)
	}
	return m, nil
}

// decodeMerge accepts both "a b" and ["a", "b"].
func decodeMerge(entry json.RawMessage) (mergePair, error) {
	var joined string
	if err := json.Unmarshal(entry, &joined); err == nil {
		left, right, ok := strings.Cut(joined, " ")
		if !ok {
			return mergePair{}, fmt.Errorf("malformed merge %q", joined)
		}
		return mergePair{left, right}, nil
	}
	var parts []string
	if err := json.Unmarshal(entry, &parts); err != nil || len(parts) != 2 {
		return mergePair{}, fmt.Errorf("malformed merge %s", entry)
	}
	return mergePair{parts[0], parts[1]}, nil
}

func (m *bpeModel) encodeWord(word string) []int {
	if ids, ok := m.cache[word]; ok {
		return ids
	}
	if m.ignoreMerges {
		if id, ok := m.vocab[word]; ok {
			m.cache[word] = []int{id}
			return m.cache[word]
		}
	}

	runes := []rune(word)
	symbols := make([]string, len(runes))
	for i, r := range runes {
		symbols[i] = string(r)
		if i > 0 {
			symbols[i] = m.prefix + symbols[i]
		}
	}
	if len(symbols) > 0 {
		symbols[len(symbols)-1] += m.suffix
	}

	for len(symbols) > 1 {
		best, bestRank := -1, math.MaxInt
		for i := 0; i+1 < len(symbols); i++ {
			if rank, ok := m.ranks[mergePair{symbols[i], symbols[i+1]}]; ok && rank < bestRank {
				best, bestRank = i, rank
			}
		}
		if best < 0 {
			break
		}
		merged := m.merged[mergePair{symbols[best], symbols[best+1]}]
		symbols = append(symbols[:best+1], symbols[best+2:]...)
		symbols[best] = merged
	}

	var ids []int
	for _, sym := range symbols {
		ids = append(ids, m.symbolIDs(sym)...)
	}
	m.cache[word] = ids
	return ids
}

func (m *bpeModel) symbolIDs(sym string) []int {
	if id, ok := m.vocab[sym]; ok {
		return []int{id}
	}
	if m.byteFallback {
		ids := make([]int, 0, len(sym))
		for i := 0; i < len(sym); i++ {
			id, ok := m.vocab[fmt.Sprintf("<0x%02X>", sym[i])]
			if !ok {
				ids = nil
				break
			}
			ids = append(ids, id)
		}
		if ids != nil {
			return ids
		}
	}
	if m.hasUnk {
		return []int{m.unkID}
	}
	return nil
}
