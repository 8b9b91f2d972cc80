package service

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/gifarena/gifarena/internal/arena"
	"github.com/google/uuid"
)

// BracketBuilder turns an entrant set into one round of seeded matchups.
// roundLengthsSecs holds the poll duration per round, final round first,
// so roundLengthsSecs[0] is the final.
type BracketBuilder struct {
	roundLengthsSecs []int
}

func NewBracketBuilder(roundLengthsSecs []int) *BracketBuilder {
	return &BracketBuilder{roundLengthsSecs: roundLengthsSecs}
}

// Gets the nearest power of 2 while rounding up, so with input 5 it returns 8 and so on
func calcBracketSize(count int) int {
	if count <= 0 {
		return 0
	}
	log2 := math.Ceil(math.Log2(float64(count)))
	return int(math.Pow(2, log2))
}

// seedPairs lays out round pairings so that, with seeds 0..n-1, the top
// seed meets the bottom seed and the bracket stays balanced: for 8 slots
// the pairs are {0,7}, {3,4}, {1,6}, {2,5}.
func seedPairs(bracketSize int) [][2]int {
	if bracketSize == 0 {
		return [][2]int{}
	}

	seeds := []int{0}
	for len(seeds) < bracketSize {
		var next []int
		currentCount := len(seeds) * 2
		for _, seed := range seeds {
			next = append(next, seed)
			next = append(next, (currentCount-1)-seed)
		}
		seeds = next
	}

	pairs := make([][2]int, 0, bracketSize/2)
	for i := 0; i < len(seeds); i += 2 {
		pairs = append(pairs, [2]int{seeds[i], seeds[i+1]})
	}
	return pairs
}

// shuffleSeed derives the bracket's PRNG seed from the tournament
// identifier, so the same tournament always shuffles the same way without
// storing the order.
func shuffleSeed(tournamentID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(tournamentID[:])
	return int64(h.Sum64())
}

func (b *BracketBuilder) durationFor(round int) int {
	if len(b.roundLengthsSecs) == 0 {
		return 300
	}
	if round-1 < len(b.roundLengthsSecs) {
		return b.roundLengthsSecs[round-1]
	}
	return b.roundLengthsSecs[len(b.roundLengthsSecs)-1]
}

// Build produces the matchups for one round, indexes continuing at
// startIndex. Entrants are deduplicated and shuffled deterministically by
// tournament identifier. Non-power-of-two counts get byes: a matchup with
// a single real entrant, created already finished with a full-tally win
// and no poll. Byes fall to the lowest remaining seeds, so the bracket is
// never more than one bye slot uneven.
func (b *BracketBuilder) Build(tournamentID uuid.UUID, entrants []uuid.UUID, startIndex int, now time.Time) ([]*arena.Matchup, error) {
	seen := make(map[uuid.UUID]struct{}, len(entrants))
	distinct := make([]uuid.UUID, 0, len(entrants))
	for _, id := range entrants {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}
	if len(distinct) < 2 {
		return nil, arena.ErrInsufficientEntrants
	}

	// Input order carries no meaning: sort first so the shuffle depends
	// only on the set and the tournament key.
	sort.Slice(distinct, func(i, j int) bool {
		return distinct[i].String() < distinct[j].String()
	})
	rng := rand.New(rand.NewSource(shuffleSeed(tournamentID)))
	rng.Shuffle(len(distinct), func(i, j int) {
		distinct[i], distinct[j] = distinct[j], distinct[i]
	})

	bracketSize := calcBracketSize(len(distinct))
	round := int(math.Log2(float64(bracketSize)))
	duration := b.durationFor(round)

	matchups := make([]*arena.Matchup, 0, bracketSize/2)
	for i, pair := range seedPairs(bracketSize) {
		m := &arena.Matchup{
			TournamentID: tournamentID,
			Index:        startIndex + i,
			Round:        round,
			DurationSecs: duration,
		}

		// Seeds past the entrant count are the bye slots. Each pair holds
		// at least one real entrant because the lower seed of every pair
		// is below bracketSize/2.
		top, bottom := pair[0], pair[1]
		if top >= len(distinct) {
			top, bottom = bottom, top
		}
		m.AnimationA = distinct[top]
		if bottom < len(distinct) {
			id := distinct[bottom]
			m.AnimationB = &id
			m.Phase = arena.NotStarted{}
		} else {
			m.Phase = arena.Finished{
				VotesA:     1,
				VotesB:     0,
				StartedAt:  now,
				FinishedAt: now,
			}
		}
		matchups = append(matchups, m)
	}
	return matchups, nil
}
