package risk

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// Tier is a coarse danger class assigned by the heuristic classifier.
type Tier string

const (
	TierNone      Tier = ""
	TierSafe      Tier = "safe"
	TierCaution   Tier = "caution"
	TierDangerous Tier = "dangerous"
	TierCritical  Tier = "critical"
)

func (t Tier) rank() int {
	switch t {
	case TierSafe:
		return 1
	case TierCaution:
		return 2
	case TierDangerous:
		return 3
	case TierCritical:
		return 4
	default:
		return 0
	}
}

// upgradeTier moves one step towards critical. An unclassified command
// becomes caution.
func upgradeTier(t Tier) Tier {
	switch t {
	case TierNone, TierSafe:
		return TierCaution
	case TierCaution:
		return TierDangerous
	default:
		return TierCritical
	}
}

// tierScore maps a tier to its risk score and whether it needs approval.
func tierScore(t Tier) (int, bool) {
	switch t {
	case TierCritical:
		return 9, true
	case TierDangerous:
		return 7, true
	case TierCaution:
		return 4, false
	case TierSafe:
		return 0, false
	default:
		return 1, false
	}
}

type pattern struct {
	tier     Tier
	expr     string
	compiled *regexp.Regexp
}

// SegmentMatch records which pattern classified one segment.
type SegmentMatch struct {
	Segment string `json:"segment"`
	Tier    Tier   `json:"tier"`
	Pattern string `json:"pattern"`
}

// Classification is the heuristic's view of one command.
type Classification struct {
	Tier       Tier           `json:"tier"`
	Pattern    string         `json:"pattern,omitempty"`
	Segments   []SegmentMatch `json:"segments,omitempty"`
	ParseError bool           `json:"parse_error,omitempty"`
	Privileged bool           `json:"privileged,omitempty"`
}

// Heuristic is a local, deterministic Assessor built from tiered patterns.
type Heuristic struct {
	mu        sync.RWMutex
	whole     []*pattern
	safe      []*pattern
	critical  []*pattern
	dangerous []*pattern
	caution   []*pattern
}

// NewHeuristic returns a classifier loaded with the built-in patterns.
func NewHeuristic() *Heuristic {
	h := &Heuristic{}
	h.loadDefaults()
	return h
}

func (h *Heuristic) loadDefaults() {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Checked against the whole command before it is split.
	h.whole = compilePatterns(TierCritical, []string{
		`\b(curl|wget)\b.*\|\s*(sudo\s+)?(ba|z|k|da)?sh\b`,
		`:\(\)\s*\{.*:\s*\|\s*:.*\}`,
		`>\s*/dev/(sd[a-z]|nvme\d|hd[a-z])`,
	})

	h.safe = compilePatterns(TierSafe, []string{
		`^(ls|pwd|whoami|date|id|uname|hostname|uptime)(\s|$)`,
		`^(cat|head|tail|wc|less|more)\s+[^>]+$`,
		`^echo(\s+[^>]*)?$`,
		`^git\s+(status|log|diff|show|branch)(\s|$)`,
		`^(rm)\s+[^-\s][^\s]*\.(log|tmp|bak)$`,
	})

	h.critical = compilePatterns(TierCritical, []string{
		`^rm\s+(-[rf]+\s+)+/(boot|dev|etc|home|lib|lib64|media|mnt|opt|proc|root|run|sbin|srv|sys|usr|var)`,
		`^rm\s+(-[rf]+\s+)+/($|\s)`,
		`^rm\s+(-[rf]+\s+)+/\*`,
		`^rm\s+(-[rf]+\s+)+~`,
		`DROP\s+DATABASE`,
		`DROP\s+SCHEMA`,
		`TRUNCATE\s+TABLE`,
		`^terraform\s+destroy\s*$`,
		`^terraform\s+destroy\s+-auto-approve`,
		`^kubectl\s+delete\s+(node|nodes|namespace|namespaces|pv|persistentvolume)\b`,
		`^docker\s+system\s+prune\s+-a`,
		`^git\s+push\s+.*--force($|\s)`,
		`^git\s+push\s+.*-f($|\s)`,
		`^aws\s+.*terminate-instances`,
		`\bdd\b.*\bif=`,
		`^mkfs`,
		`^(fdisk|parted|wipefs)\b`,
		`^(shutdown|reboot|halt|poweroff)\b`,
		`^chmod\s+.*/(etc|usr|var|boot|bin|sbin)`,
		`^chown\s+.*/(etc|usr|var|boot|bin|sbin)`,
	})

	h.dangerous = compilePatterns(TierDangerous, []string{
		`^rm\s+-[rf]{2}`,
		`^rm\s+-r`,
		`^git\s+reset\s+--hard`,
		`^git\s+clean\s+-fd`,
		`^kubectl\s+delete`,
		`^docker\s+(rm|rmi)\b`,
		`DROP\s+TABLE`,
		`DELETE\s+FROM`,
		`^chmod\s+(-R|777)`,
		`^chown\s+-R`,
		`^find\s+.*-(delete|exec)\b`,
		`^(kill|pkill|killall)\s+-9`,
		`^(iptables|ufw)\b`,
		`^(useradd|userdel|usermod|passwd)\b`,
		`^(nc|ncat|netcat)\b.*-e\b`,
	})

	h.caution = compilePatterns(TierCaution, []string{
		`^rm\s+[^-]`,
		`^rm$`,
		`^git\s+stash\s+drop`,
		`^git\s+branch\s+-[dD]`,
		`^(npm|pip|pip3|cargo|gem)\s+(uninstall|remove)`,
		`^(mv|cp)\s+.*\s/(etc|usr|bin|sbin)`,
		`^(curl|wget|scp|rsync|ssh)\b`,
		`^(kill|pkill|killall)\b`,
	})
}

func compilePatterns(tier Tier, exprs []string) []*pattern {
	out := make([]*pattern, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, &pattern{
			tier:     tier,
			expr:     expr,
			compiled: regexp.MustCompile("(?i)" + expr),
		})
	}
	return out
}

// Assess classifies text and maps the tier to a verdict.
func (h *Heuristic) Assess(ctx context.Context, text string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	c := h.Classify(text)
	score, approval := tierScore(c.Tier)

	var analysis string
	switch {
	case c.Tier == TierNone:
		analysis = "no known risk pattern matched"
	case c.Pattern != "":
		analysis = fmt.Sprintf("%s: matched %q", c.Tier, c.Pattern)
	default:
		analysis = string(c.Tier)
	}
	if c.ParseError {
		analysis += "; command could not be tokenized, risk raised one tier"
	}
	if c.Privileged {
		analysis += "; runs with elevated privileges"
	}

	confidence := 90
	if c.Tier == TierNone {
		confidence = 50
	}
	return Verdict{
		RequiresApproval: approval,
		RiskScore:        score,
		Analysis:         analysis,
		Confidence:       confidence,
		Dangerous:        approval,
	}, nil
}

// Classify returns the highest tier over every segment of text.
func (h *Heuristic) Classify(text string) *Classification {
	h.mu.RLock()
	defer h.mu.RUnlock()

	res := &Classification{}
	if p := matchFirst(text, h.whole); p != nil {
		res.Tier = TierCritical
		res.Pattern = p.expr
		res.Segments = append(res.Segments, SegmentMatch{Segment: text, Tier: TierCritical, Pattern: p.expr})
		return res
	}

	for _, raw := range SplitSegments(text) {
		seg := normalizeSegment(raw)
		if seg.parseError {
			res.ParseError = true
		}
		if seg.privileged {
			res.Privileged = true
		}
		m := h.classifySegment(seg.text)
		if m == nil {
			continue
		}
		res.Segments = append(res.Segments, *m)
		if m.Tier.rank() > res.Tier.rank() {
			res.Tier = m.Tier
			res.Pattern = m.Pattern
		}
	}

	if res.ParseError {
		res.Tier = upgradeTier(res.Tier)
	}
	if res.Privileged && res.Tier.rank() < TierDangerous.rank() {
		res.Tier = upgradeTier(res.Tier)
	}
	return res
}

// classifySegment checks tiers in order safe, critical, dangerous, caution.
func (h *Heuristic) classifySegment(seg string) *SegmentMatch {
	for _, tier := range [][]*pattern{h.safe, h.critical, h.dangerous, h.caution} {
		if p := matchFirst(seg, tier); p != nil {
			return &SegmentMatch{Segment: seg, Tier: p.tier, Pattern: p.expr}
		}
	}
	return nil
}

func matchFirst(s string, patterns []*pattern) *pattern {
	for _, p := range patterns {
		if p.compiled.MatchString(s) {
			return p
		}
	}
	return nil
}

// SplitSegments splits a command line on ; && || | and newlines that are
// not inside quotes.
func SplitSegments(text string) []string {
	var (
		segments []string
		cur      strings.Builder
		inSingle bool
		inDouble bool
		escaped  bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segments = append(segments, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && !inSingle:
			escaped = true
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
		case ch == '"' && !inSingle:
			inDouble = !inDouble
		case !inSingle && !inDouble && (ch == ';' || ch == '\n'):
			flush()
			continue
		case !inSingle && !inDouble && (ch == '&' || ch == '|'):
			if i+1 < len(text) && text[i+1] == ch {
				i++
			}
			flush()
			continue
		}
		cur.WriteByte(ch)
	}
	flush()
	return segments
}

type normalizedSegment struct {
	text       string
	parseError bool
	privileged bool
}

var wrapperCommands = map[string]bool{
	"sudo": true, "doas": true, "env": true, "nohup": true, "time": true,
	"command": true, "builtin": true, "nice": true, "exec": true,
}

// normalizeSegment tokenizes one segment and drops wrapper commands and
// leading variable assignments so patterns see the real program first.
func normalizeSegment(seg string) normalizedSegment {
	out := normalizedSegment{text: seg}
	if strings.Contains(seg, "$(") || strings.Contains(seg, "`") {
		out.parseError = true
	}

	args, err := shellwords.Parse(seg)
	if err != nil || len(args) == 0 {
		out.parseError = out.parseError || err != nil
		return out
	}

	i := 0
	for i < len(args) {
		a := args[i]
		if wrapperCommands[a] {
			if a == "sudo" || a == "doas" {
				out.privileged = true
			}
			i++
			for i < len(args) && strings.HasPrefix(args[i], "-") {
				i++
			}
			continue
		}
		if assignmentRe.MatchString(a) {
			i++
			continue
		}
		break
	}
	if i < len(args) {
		out.text = strings.Join(args[i:], " ")
	} else {
		out.text = strings.Join(args, " ")
	}
	return out
}

var assignmentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)
