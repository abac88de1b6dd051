package boxes

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"olive-backend/internal/apperr"
	"olive-backend/internal/models"
)

const auxiliaryPrefix = "Chkara"

var (
	factoryIDPattern   = regexp.MustCompile(`^[1-9][0-9]*$`)
	auxiliaryIDPattern = regexp.MustCompile(`^` + auxiliaryPrefix + `([1-9][0-9]*)$`)
)

// Identity is a parsed box id: either a factory number or an auxiliary "Chkara<N>".
type Identity struct {
	Pool   models.BoxPool
	Number int
}

func (i Identity) String() string {
	if i.Pool == models.BoxPoolAuxiliary {
		return AuxiliaryID(i.Number)
	}
	return strconv.Itoa(i.Number)
}

func AuxiliaryID(n int) string {
	return auxiliaryPrefix + strconv.Itoa(n)
}

// ParseIdentity classifies id. Factory numbers must lie in 1..poolSize.
func ParseIdentity(id string, poolSize int) (Identity, error) {
	if factoryIDPattern.MatchString(id) {
		n, err := strconv.Atoi(id)
		if err != nil || n > poolSize {
			return Identity{}, apperr.Validation("box id %s is outside the factory range 1..%d", id, poolSize)
		}
		return Identity{Pool: models.BoxPoolFactory, Number: n}, nil
	}
	if m := auxiliaryIDPattern.FindStringSubmatch(id); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Identity{}, apperr.Validation("box id %s has an invalid number", id)
		}
		return Identity{Pool: models.BoxPoolAuxiliary, Number: n}, nil
	}
	return Identity{}, apperr.Validation("box id %q is neither a number in 1..%d nor %s<N>", id, poolSize, auxiliaryPrefix)
}

// ParseTyped parses id and checks that it belongs to the namespace of boxType:
// chkara boxes live in the auxiliary pool, normal and nchira in the factory pool.
func ParseTyped(id string, boxType models.BoxType, poolSize int) (Identity, error) {
	if !boxType.Valid() {
		return Identity{}, apperr.Validation("unknown box type %q", boxType)
	}
	ident, err := ParseIdentity(id, poolSize)
	if err != nil {
		return Identity{}, err
	}
	if boxType == models.BoxTypeChkara && ident.Pool != models.BoxPoolAuxiliary {
		return Identity{}, apperr.Validation("chkara boxes must be named %s<N>, got %s", auxiliaryPrefix, id)
	}
	if boxType != models.BoxTypeChkara && ident.Pool != models.BoxPoolFactory {
		return Identity{}, apperr.Validation("%s boxes must use a factory number, got %s", boxType, id)
	}
	return ident, nil
}

// DefaultType is the type assumed when the caller gives none.
func DefaultType(ident Identity) models.BoxType {
	if ident.Pool == models.BoxPoolAuxiliary {
		return models.BoxTypeChkara
	}
	return models.BoxTypeNormal
}

// LessID orders factory ids numerically ("9" < "10"), then auxiliary ids by
// their number, then anything unparseable lexicographically.
func LessID(a, b string) bool {
	ka, kb := sortKey(a), sortKey(b)
	if ka.rank != kb.rank {
		return ka.rank < kb.rank
	}
	if ka.rank == 2 {
		return a < b
	}
	return ka.n < kb.n
}

type idKey struct {
	rank int
	n    int
}

func sortKey(id string) idKey {
	if factoryIDPattern.MatchString(id) {
		if n, err := strconv.Atoi(id); err == nil {
			return idKey{rank: 0, n: n}
		}
	}
	if m := auxiliaryIDPattern.FindStringSubmatch(id); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return idKey{rank: 1, n: n}
		}
	}
	return idKey{rank: 2}
}

func SortBoxes(boxes []models.Box) {
	sort.SliceStable(boxes, func(i, j int) bool { return LessID(boxes[i].ID, boxes[j].ID) })
}

func SortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool { return LessID(ids[i], ids[j]) })
}

// NextAuxiliaryNumber returns the smallest positive integer missing from used.
func NextAuxiliaryNumber(used []int) int {
	sorted := append([]int(nil), used...)
	sort.Ints(sorted)
	next := 1
	for _, n := range sorted {
		if n < next {
			continue
		}
		if n > next {
			break
		}
		next++
	}
	return next
}

// NormalizeIDs trims, drops blanks and duplicates, keeping input order.
func NormalizeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
