package pack

import (
	"sort"
	"unicode/utf8"
)

// AnchorDocNames are the files most likely to orient an agent, in
// preference order.
var AnchorDocNames = []string{"AGENTS.md", "CLAUDE.md", "README.md", "CONTRIBUTING.md", "docs/README.md"}

// AnchorSnippet is one orientation snippet from an anchor doc.
type AnchorSnippet struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
}

// OnboardingInput feeds the onboarding packer: probed project facts,
// anchor doc snippets, and a bounded map. The caller (dispatch) owns
// producing these; the packer only budgets and arranges them.
type OnboardingInput struct {
	Facts   map[string][]string
	Anchors []AnchorSnippet
	Map     *MapView
}

// OnboardingView is the agent-oriented project introduction.
type OnboardingView struct {
	Facts   map[string][]string `json:"facts,omitempty"`
	Anchors []AnchorSnippet     `json:"anchors,omitempty"`
	Map     *MapView            `json:"map,omitempty"`
	Budget  Budget              `json:"budget"`
}

// BuildOnboarding arranges facts, anchors, and the map under maxChars.
// Tight budgets degrade in reverse value order: map first, then extra
// anchors, then fact categories, bottoming out at a single anchor-doc
// snippet (halved if it alone overflows).
func BuildOnboarding(in OnboardingInput, maxChars int) *OnboardingView {
	if maxChars <= 0 {
		maxChars = DefaultOptions().MaxChars
	}
	view := &OnboardingView{
		Facts:   in.Facts,
		Anchors: in.Anchors,
		Map:     in.Map,
		Budget:  Budget{MaxChars: maxChars},
	}

	for {
		used := onboardingChars(view)
		if used <= maxChars {
			view.Budget.UsedChars = used
			return view
		}
		view.Budget.Truncated = true
		view.Budget.Truncation = TruncationMaxChars
		switch {
		case view.Map != nil:
			view.Map = nil
		case len(view.Anchors) > 1:
			view.Anchors = view.Anchors[:len(view.Anchors)-1]
			view.Budget.DroppedItems++
		case len(view.Facts) > 0:
			dropLargestFactCategory(view)
		case len(view.Anchors) == 1 && utf8.RuneCountInString(view.Anchors[0].Content) > 1:
			view.Anchors[0].Content = halveContent(view.Anchors[0].Content)
		default:
			view.Anchors = nil
			view.Budget.UsedChars = onboardingChars(view)
			return view
		}
	}
}

func dropLargestFactCategory(view *OnboardingView) {
	keys := make([]string, 0, len(view.Facts))
	for k := range view.Facts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := len(view.Facts[keys[i]]), len(view.Facts[keys[j]])
		if li != lj {
			return li > lj
		}
		return keys[i] < keys[j]
	})
	delete(view.Facts, keys[0])
	if len(view.Facts) == 0 {
		view.Facts = nil
	}
}

func onboardingChars(view *OnboardingView) int {
	used := 0
	for k, vals := range view.Facts {
		used += len(k) + 4
		for _, v := range vals {
			used += len(v) + 2
		}
	}
	for _, a := range view.Anchors {
		used += len(a.File) + utf8.RuneCountInString(a.Content) + 16
	}
	if view.Map != nil {
		used += mapChars(view.Map)
	}
	return used
}
