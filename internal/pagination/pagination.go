package pagination

import (
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	DefaultPerPage = 50
	MaxPerPage     = 600
	// MaxPage keeps (Page-1)*PerPage inside int.
	MaxPage        = math.MaxInt / MaxPerPage
)

// Params is a resolved page request.
type Params struct {
	Page    int
	PerPage int
}

func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Normalize clamps page and per_page into their allowed ranges.
func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

// Window returns the [start, end) bounds of this page over n items.
func (p Params) Window(n int) (int, int) {
	start := p.Offset()
	if start < 0 || start > n {
		start = n
	}
	end := start + p.PerPage
	if end > n {
		end = n
	}
	return start, end
}

// FromQuery reads ?page= and ?per_page= (or ?limit=).
func FromQuery(c *fiber.Ctx) Params {
	per := strings.TrimSpace(c.Query("per_page"))
	if per == "" {
		per = strings.TrimSpace(c.Query("limit"))
	}
	return Params{
		Page:    atoiDefault(c.Query("page"), 1),
		PerPage: atoiDefault(per, DefaultPerPage),
	}.Normalize()
}

type Meta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func NewMeta(p Params, total int64) Meta {
	pages := int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
	return Meta{Page: p.Page, PerPage: p.PerPage, Total: total, TotalPages: pages}
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
