package relay

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Category classifies how a kill happened.
type Category string

const (
	CategoryMelee         Category = "melee"
	CategoryRanged        Category = "ranged"
	CategoryEnvironmental Category = "environmental"
	CategoryOther         Category = "other" // producer-supplied method outside the pools
	CategoryDeath         Category = "death" // no killer
)

// killStyle is one weighted narration category.
type killStyle struct {
	category    Category
	weight      int // percent
	emoji       string
	template    string // killer, victim, instrument
	instruments []string
}

// killStyles weights sum to 100: melee 50, ranged 35, environmental 15.
var killStyles = []killStyle{
	{
		category:    CategoryMelee,
		weight:      50,
		emoji:       "🗡️",
		template:    "%[1]s cut down %[2]s with a %[3]s",
		instruments: []string{"sword", "axe", "spear", "mace", "dagger", "trident", "machete"},
	},
	{
		category:    CategoryRanged,
		weight:      35,
		emoji:       "🏹",
		template:    "%[1]s shot %[2]s with a %[3]s",
		instruments: []string{"bow", "crossbow", "slingshot", "blowgun", "throwing knife"},
	},
	{
		category:    CategoryEnvironmental,
		weight:      15,
		emoji:       "🪤",
		template:    "%[2]s was caught in %[1]s's %[3]s",
		instruments: []string{"snare", "pit trap", "tripwire", "landmine", "net trap"},
	},
}

// Narrator turns raw kill facts into feed text. Safe for concurrent use.
type Narrator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewNarrator creates a narrator. A nil rng seeds from the clock.
func NewNarrator(rng *rand.Rand) *Narrator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Narrator{rng: rng}
}

// Narration is the generated text plus the method it settled on.
type Narration struct {
	Text     string
	Category Category
	Method   string
}

// Narrate builds the feed line. With no killer it is a bare death; with no
// method one is drawn from the weighted categories.
func (n *Narrator) Narrate(victim, killer, method string) Narration {
	if killer == "" {
		return Narration{
			Text:     fmt.Sprintf("💀 %s died", victim),
			Category: CategoryDeath,
			Method:   method,
		}
	}

	if method != "" {
		if style, ok := styleForInstrument(method); ok {
			return Narration{
				Text:     style.emoji + " " + fmt.Sprintf(style.template, killer, victim, method),
				Category: style.category,
				Method:   method,
			}
		}
		return Narration{
			Text:     fmt.Sprintf("⚔️ %s killed %s with %s", killer, victim, method),
			Category: CategoryOther,
			Method:   method,
		}
	}

	style, instrument := n.draw()
	return Narration{
		Text:     style.emoji + " " + fmt.Sprintf(style.template, killer, victim, instrument),
		Category: style.category,
		Method:   instrument,
	}
}

// draw picks a category by weight, then an instrument uniformly within it.
func (n *Narrator) draw() (killStyle, string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	roll := n.rng.Intn(100)
	style := killStyles[len(killStyles)-1]
	for _, s := range killStyles {
		if roll < s.weight {
			style = s
			break
		}
		roll -= s.weight
	}
	return style, style.instruments[n.rng.Intn(len(style.instruments))]
}

func styleForInstrument(method string) (killStyle, bool) {
	m := strings.ToLower(strings.TrimSpace(method))
	for _, s := range killStyles {
		for _, inst := range s.instruments {
			if inst == m {
				return s, true
			}
		}
	}
	return killStyle{}, false
}
